package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

// RateLimitCooldown is the fixed sleep applied when a provider signals
// rate-limit exhaustion. Process-wide: concurrent callers gate on the same
// Budget cooldown window instead of sleeping independently.
const RateLimitCooldown = 60 * time.Second

// Client bundles the REST client, the raw HTTP client used for GraphQL
// requests, and the shared rate-limit budget.
type Client struct {
	REST   *github.Client
	HTTP   *http.Client
	Budget *Budget

	// Cooldown overrides RateLimitCooldown; tests shrink it.
	Cooldown time.Duration
}

type options struct {
	verbose bool
	// writer controls where verbose HTTP logs are written (typically stderr)
	// so the report on stdout stays clean and tests can capture logs.
	writer io.Writer
}

type Option func(*options)

func WithVerbose(enabled bool, writer io.Writer) Option {
	return func(o *options) {
		o.verbose = enabled
		o.writer = writer
	}
}

// loggingRoundTripper wraps an underlying transport and emits one line per
// request and response (including latency) when verbose logging is enabled.
type loggingRoundTripper struct {
	base http.RoundTripper
	w    io.Writer
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if t.w != nil {
		_, _ = fmt.Fprintf(t.w, "[verbose] api: %s %s\n", req.Method, req.URL.String())
	}
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start)
	if t.w != nil {
		if err != nil {
			_, _ = fmt.Fprintf(t.w, "[verbose] api: error after %s: %v\n", dur.Truncate(time.Millisecond), err)
		} else {
			_, _ = fmt.Fprintf(t.w, "[verbose] api: %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), dur.Truncate(time.Millisecond))
		}
	}
	return resp, err
}

// NewClient builds a GitHub client whose transport chain is, outermost first:
// oauth2 token injection, secondary-rate-limit waiter, optional verbose
// logging, default transport.
func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.writer == nil {
		o.writer = os.Stderr
	}

	transport := http.DefaultTransport
	if o.verbose {
		transport = &loggingRoundTripper{base: transport, w: o.writer}
	}

	waiter, err := github_ratelimit.NewRateLimitWaiter(transport,
		github_ratelimit.WithSingleSleepLimit(time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("github client: rate limit waiter: %w", err)
	}
	transport = waiter

	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	// Always provide an http.Client so verbose logging works even without a token.
	tc := &http.Client{Transport: transport}

	return &Client{
		REST:     github.NewClient(tc),
		HTTP:     tc,
		Budget:   NewBudget(),
		Cooldown: RateLimitCooldown,
	}, nil
}

// RateLimitSnapshot reports the remaining core rate-limit budget as the
// provider sees it. Advisory only; the pipeline logs it between steps.
func (c *Client) RateLimitSnapshot(ctx context.Context) (remaining, limit int, reset time.Time, err error) {
	limits, resp, err := c.REST.RateLimit.Get(ctx)
	if resp != nil {
		c.Budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	core := limits.GetCore()
	if core == nil {
		return 0, 0, time.Time{}, fmt.Errorf("rate limit: no core resource in response")
	}
	return core.Remaining, core.Limit, core.Reset.Time, nil
}
