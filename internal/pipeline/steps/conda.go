package steps

import (
	"context"
	"fmt"

	"orgpulse/internal/config"
	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

type condaStep struct{}

// CondaDownloads merges conda download counts, aggregated from the monthly
// anaconda parquet partitions, into existing records. Historical package
// names remap to their current repository per the configured legacy policy:
// "sum" accumulates every alias into the target, "latest" counts only the
// current name and drops the aliases.
func CondaDownloads() pipeline.Step {
	return &condaStep{}
}

func (s *condaStep) Name() string { return "conda-downloads" }

func (s *condaStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	if env.Conda == nil {
		env.Logger.Printf("conda source not configured, skipping download counts")
		return rep, nil
	}

	packages := rep.Names()
	for legacy := range env.Legacy.Map {
		packages = append(packages, legacy)
	}

	latest, haveLatest, err := env.Conda.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync conda partitions: %w", err)
	}

	totals, err := env.Conda.Aggregate(packages)
	if err != nil {
		return nil, fmt.Errorf("aggregate conda downloads: %w", err)
	}
	monthly := map[string]int{}
	if haveLatest {
		monthly, err = env.Conda.MonthTotals(latest, packages)
		if err != nil {
			return nil, fmt.Errorf("aggregate last-month conda downloads: %w", err)
		}
	}

	s.apply(rep, env, totals, false)
	s.apply(rep, env, monthly, true)
	return rep, nil
}

func (s *condaStep) apply(rep *report.Report, env *pipeline.Env, counts map[string]int, monthly bool) {
	for pkg, count := range counts {
		target := pkg
		if mapped, ok := env.Legacy.Map[pkg]; ok {
			// The latest policy keeps only counts published under the
			// current name; sum folds every historical alias in.
			if env.Legacy.Policy == config.LegacyPolicyLatest {
				continue
			}
			target = mapped
		}
		rec, ok := rep.Get(target)
		if !ok {
			continue
		}
		if monthly {
			rec.AccumulateConda(0, count)
		} else {
			rec.AccumulateConda(count, 0)
		}
	}
}
