package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Budget tracks the provider's remaining request quota and the shared
// backoff window. All request paths (GraphQL pagination, REST polling,
// per-repo workers) consult the same Budget so an exhausted rate limit is
// waited out exactly once instead of being amplified by concurrent retries.
type Budget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	now       func() time.Time
}

func NewBudget() *Budget {
	return &Budget{
		remaining: 5000, // conservative default until a response tells us better
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
	}
}

// Snapshot returns the last observed remaining quota and reset time.
func (b *Budget) Snapshot() (remaining int, reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.reset
}

// StartCooldown opens (or extends) the shared backoff window. Callers that
// observed a rate-limit signal invoke this before waiting so that concurrent
// workers gate on the same window.
func (b *Budget) StartCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.now().Add(d)
	if until.After(b.cooldown) {
		b.cooldown = until
	}
}

// Wait blocks while the shared cooldown window is open. It returns nil as
// soon as the window has passed, or ctx.Err() on cancellation.
func (b *Budget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		if !now.Before(b.cooldown) {
			b.mu.Unlock()
			return nil
		}
		wait := b.cooldown.Sub(now)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// UpdateFromResponse records quota headers from a provider response.
// A Retry-After header opens the shared cooldown window.
func (b *Budget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			until := b.now().Add(time.Duration(seconds) * time.Second)
			if until.After(b.cooldown) {
				b.cooldown = until
			}
		}
	}

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil && val >= 0 {
			b.remaining = val
		}
	}

	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil && val > 0 {
			b.reset = time.Unix(val, 0)
		}
	}
}
