// Package pipeline runs an ordered sequence of fetch steps against one
// shared report. Steps execute strictly sequentially: later steps depend on
// repositories already being present in the report.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"orgpulse/internal/config"
	"orgpulse/internal/downloads"
	gh "orgpulse/internal/github"
	"orgpulse/internal/report"
)

// Env bundles the collaborators a step may need. PePy and Conda are nil
// when their provider is not configured; the corresponding steps skip with
// a log line instead of failing.
type Env struct {
	Client *gh.Client
	Run    config.Run
	Filter Policy
	Logger *log.Logger

	// Concurrency bounds per-repository fan-out inside a step. The shared
	// rate-limit budget on Client keeps backoff process-wide regardless.
	Concurrency int

	PePy  *downloads.PePyClient
	Conda *downloads.CondaSource

	// Legacy maps historical package names to current repository names for
	// download accumulation; Policy is one of config.LegacyPolicySum or
	// config.LegacyPolicyLatest.
	Legacy config.LegacyPackages
}

// Step is one unit of the pipeline: it enriches the shared report from one
// external data source. Run may mutate the report in place or return a new
// one; the pipeline always feeds the returned value to the next step.
//
// A returned error aborts the entire run; later steps assume earlier ones
// succeeded. Per-repository failures inside a step must be logged and left
// as default values instead.
type Step interface {
	Name() string
	Run(ctx context.Context, rep *report.Report, env *Env) (*report.Report, error)
}

type Pipeline struct {
	steps  []Step
	logger *log.Logger
}

func New(logger *log.Logger, steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, logger: logger}
}

// Run executes every step in order against rep and returns the final
// report. After each step it logs the provider's remaining rate-limit
// budget; that read is advisory and never blocks or fails the run.
func (p *Pipeline) Run(ctx context.Context, rep *report.Report, env *Env) (*report.Report, error) {
	if rep == nil {
		rep = report.New()
	}
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.logger.Printf("running step %s", step.Name())

		out, err := step.Run(ctx, rep, env)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name(), err)
		}
		if out != nil {
			rep = out
		}
		p.logger.Printf("finished step %s", step.Name())

		p.logRateLimit(ctx, env)
	}
	return rep, nil
}

func (p *Pipeline) logRateLimit(ctx context.Context, env *Env) {
	if env == nil || env.Client == nil {
		return
	}
	remaining, limit, reset, err := env.Client.RateLimitSnapshot(ctx)
	if err != nil {
		p.logger.Printf("rate limit check failed: %v", err)
		return
	}
	p.logger.Printf("rate limit: %d/%d remaining until %s", remaining, limit, reset)
}
