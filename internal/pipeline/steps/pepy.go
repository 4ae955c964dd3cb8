package steps

import (
	"context"
	"errors"
	"time"

	"orgpulse/internal/downloads"
	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

type pepyStep struct {
	now func() time.Time
}

// PePyDownloads merges PyPI download counts from the pepy.tech API into
// existing records. Without a configured API key the whole step is skipped;
// a repository with no matching package is left at zero downloads.
func PePyDownloads() pipeline.Step {
	return &pepyStep{now: time.Now}
}

func (s *pepyStep) Name() string { return "pepy-downloads" }

func (s *pepyStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	if env.PePy == nil {
		env.Logger.Printf("pepy api key not set, skipping download counts")
		return rep, nil
	}

	for _, name := range rep.Names() {
		project, err := env.PePy.Project(ctx, name)
		if err != nil {
			if errors.Is(err, downloads.ErrProjectNotFound) {
				env.Logger.Printf("%s: not found on pepy, skipping", name)
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			env.Logger.Printf("%s: pepy fetch failed: %v", name, err)
			continue
		}

		rec, ok := rep.Get(name)
		if !ok {
			continue
		}
		windows := project.Windows(s.now())
		rec.TotalDownloadCount = windows.Total
		rec.MonthlyDownloadCount = windows.Monthly
		rec.WeeklyDownloadCount = windows.Weekly
		rec.DailyDownloadCount = windows.Daily
	}
	return rep, nil
}
