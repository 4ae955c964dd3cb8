// Package downloads provides the non-GitHub data sources: the PePy
// download-statistics API and the Anaconda monthly parquet dataset.
package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// PePy enforces a small request quota; these mirror its observed limits.
const (
	pepyBaseURL        = "https://api.pepy.tech"
	pepyPacingRequests = 8
	pepyCooldown       = 80 * time.Second
	pepyMaxRetries     = 2
)

// ErrProjectNotFound marks a package that does not exist on PyPI. Callers
// skip these repositories silently: not every repository is a package.
var ErrProjectNotFound = errors.New("pepy: project not found")

// PePyClient fetches per-package download statistics. It paces itself
// proactively (a sleep after every pacingRequests calls) and retries on 429
// with the same fixed cooldown.
type PePyClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *log.Logger

	requests int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPePyClient(apiKey string, logger *log.Logger) *PePyClient {
	return &PePyClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: pepyBaseURL,
		apiKey:  apiKey,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// PePyProject is the raw API payload: a lifetime total plus per-day,
// per-version download counts keyed by YYYY-MM-DD date.
type PePyProject struct {
	TotalDownloads int                       `json:"total_downloads"`
	Downloads      map[string]map[string]int `json:"downloads"`
}

// Project fetches download statistics for one package. It returns
// ErrProjectNotFound on 404 and retries 429 up to the retry budget before
// giving up.
func (c *PePyClient) Project(ctx context.Context, name string) (*PePyProject, error) {
	retries := pepyMaxRetries
	for {
		if c.requests >= pepyPacingRequests {
			c.logger.Printf("pepy: sleeping %s to stay under the rate limit", pepyCooldown)
			if err := c.sleep(ctx, pepyCooldown); err != nil {
				return nil, err
			}
			c.requests = 0
		}
		c.requests++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v2/projects/%s", c.baseURL, name), nil)
		if err != nil {
			return nil, fmt.Errorf("pepy: build request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("pepy: %s: %w", name, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var project PePyProject
			decodeErr := json.NewDecoder(resp.Body).Decode(&project)
			_ = resp.Body.Close()
			if decodeErr != nil {
				return nil, fmt.Errorf("pepy: %s: decode: %w", name, decodeErr)
			}
			return &project, nil
		case http.StatusNotFound:
			_ = resp.Body.Close()
			return nil, ErrProjectNotFound
		case http.StatusTooManyRequests:
			_ = resp.Body.Close()
			if retries <= 0 {
				return nil, fmt.Errorf("pepy: %s: rate limited, retries exhausted", name)
			}
			retries--
			c.requests = 0
			c.logger.Printf("pepy: rate limited for %s, retrying in %s", name, pepyCooldown)
			if err := c.sleep(ctx, pepyCooldown); err != nil {
				return nil, err
			}
		default:
			_ = resp.Body.Close()
			return nil, fmt.Errorf("pepy: %s: http %d", name, resp.StatusCode)
		}
	}
}

// DownloadWindows are the derived per-period counts for one package.
type DownloadWindows struct {
	Total   int
	Monthly int
	Weekly  int
	Daily   int
}

// Windows collapses per-version day counts and derives total/monthly/
// weekly/daily figures. Windows anchor at the day before now: the provider's
// data for the current day is incomplete.
func (p *PePyProject) Windows(now time.Time) DownloadWindows {
	anchor := now.AddDate(0, 0, -1)
	monthStart := anchor.AddDate(0, 0, -30)
	weekStart := anchor.AddDate(0, 0, -7)
	anchorDay := anchor.Format("2006-01-02")

	w := DownloadWindows{Total: p.TotalDownloads}
	for dateStr, versions := range p.Downloads {
		day := 0
		for _, count := range versions {
			day += count
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if date.After(monthStart) {
			w.Monthly += day
		}
		if date.After(weekStart) {
			w.Weekly += day
		}
		if dateStr == anchorDay {
			w.Daily = day
		}
	}
	return w
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
