// Package poll resolves values that a provider computes out-of-band: the
// first request may be answered with "not ready yet", and the real answer
// only becomes available after the provider finishes its own aggregation.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Status is the outcome of one probe of one unit.
type Status int

const (
	// Ready means the probe returned a usable value.
	Ready Status = iota
	// Pending means the provider has accepted the request but has not
	// computed the answer yet; the unit should be re-probed later.
	Pending
	// Failed means the probe hit a permanent per-unit error; the unit
	// resolves to the default value without further retries.
	Failed
)

// Probe requests the value for one unit. err carries detail for logging when
// status is Failed; it is never treated as fatal for the batch.
type Probe[K comparable] func(ctx context.Context, unit K) (value int, status Status, err error)

// Poller drives a batch of units through probe/re-probe rounds until every
// unit is resolved. Pending units are re-probed together: one Interval sleep
// covers the whole batch per round, so the total sleep cost is bounded by
// MaxRetries x Interval regardless of batch size.
type Poller[K comparable] struct {
	Probe      Probe[K]
	MaxRetries int
	Interval   time.Duration
	Default    int
	Logger     *log.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Poller with the given probe and retry budget.
func New[K comparable](probe Probe[K], maxRetries int, interval time.Duration, logger *log.Logger) (*Poller[K], error) {
	if probe == nil {
		return nil, errors.New("poll: probe is nil")
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("poll: max retries must be >= 0, got %d", maxRetries)
	}
	return &Poller[K]{
		Probe:      probe,
		MaxRetries: maxRetries,
		Interval:   interval,
		Logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Resolve blocks until every unit reaches a terminal state and returns the
// unit-to-value mapping. Units that fail or stay pending past the retry
// budget map to the configured default. The only error returned is context
// cancellation; everything else degrades to the default value.
func (p *Poller[K]) Resolve(ctx context.Context, units []K) (map[K]int, error) {
	results := make(map[K]int, len(units))

	var pending []K
	for _, unit := range units {
		done, err := p.probeInto(ctx, unit, results)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, unit)
		}
	}

	for retries := p.MaxRetries; len(pending) > 0 && retries > 0; retries-- {
		if p.Logger != nil {
			p.Logger.Printf("waiting %s for %d pending units", p.Interval, len(pending))
		}
		if err := p.sleep(ctx, p.Interval); err != nil {
			return nil, err
		}

		var still []K
		for _, unit := range pending {
			done, err := p.probeInto(ctx, unit, results)
			if err != nil {
				return nil, err
			}
			if !done {
				still = append(still, unit)
			}
		}
		pending = still
	}

	for _, unit := range pending {
		if p.Logger != nil {
			p.Logger.Printf("%v: timed out waiting for result, using default %d", unit, p.Default)
		}
		results[unit] = p.Default
	}

	return results, nil
}

// probeInto probes one unit and records terminal outcomes. It reports
// whether the unit reached a terminal state.
func (p *Poller[K]) probeInto(ctx context.Context, unit K, results map[K]int) (done bool, err error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	value, status, perr := p.Probe(ctx, unit)
	switch status {
	case Ready:
		results[unit] = value
		return true, nil
	case Pending:
		return false, nil
	default:
		if p.Logger != nil {
			p.Logger.Printf("%v: probe failed (%v), using default %d", unit, perr, p.Default)
		}
		results[unit] = p.Default
		return true, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
