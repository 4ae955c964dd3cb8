package steps

import (
	"context"
	"time"

	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

type metaStep struct {
	now func() time.Time
}

// Meta stamps the report with its creation time. It runs first so that the
// timestamp reflects the start of the collection run, not its end.
func Meta() pipeline.Step {
	return &metaStep{now: time.Now}
}

func (s *metaStep) Name() string { return "meta" }

func (s *metaStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	rep.Meta.CreatedAt = s.now().UTC().Format(time.RFC3339)
	return rep, nil
}
