package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestPePy(server *httptest.Server) (*PePyClient, *int) {
	sleeps := 0
	c := &PePyClient{
		http:    server.Client(),
		baseURL: server.URL,
		apiKey:  "test-key",
		logger:  log.New(io.Discard, "", 0),
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return nil
		},
	}
	return c, &sleeps
}

func TestProject_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/projects/brainrender" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_downloads": 12345,
			"downloads": map[string]map[string]int{
				"2024-05-09": {"1.0": 5, "1.1": 3},
			},
		})
	}))
	t.Cleanup(server.Close)

	c, sleeps := newTestPePy(server)
	project, err := c.Project(context.Background(), "brainrender")
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if project.TotalDownloads != 12345 {
		t.Fatalf("total = %d", project.TotalDownloads)
	}
	if project.Downloads["2024-05-09"]["1.1"] != 3 {
		t.Fatalf("downloads payload misparsed: %v", project.Downloads)
	}
	if *sleeps != 0 {
		t.Fatalf("no sleep expected for a single request, got %d", *sleeps)
	}
}

func TestProject_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	c, _ := newTestPePy(server)
	if _, err := c.Project(context.Background(), "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestProject_RateLimitedThenOK(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total_downloads": 1})
	}))
	t.Cleanup(server.Close)

	c, sleeps := newTestPePy(server)
	project, err := c.Project(context.Background(), "pkg")
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if project.TotalDownloads != 1 {
		t.Fatalf("total = %d", project.TotalDownloads)
	}
	if *sleeps != 1 {
		t.Fatalf("expected one cooldown sleep, got %d", *sleeps)
	}
}

func TestProject_RateLimitRetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	c, sleeps := newTestPePy(server)
	_, err := c.Project(context.Background(), "pkg")
	if err == nil || errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	if *sleeps != pepyMaxRetries {
		t.Fatalf("expected %d cooldown sleeps, got %d", pepyMaxRetries, *sleeps)
	}
}

func TestProject_PacesAfterRequestQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"total_downloads": 1})
	}))
	t.Cleanup(server.Close)

	c, sleeps := newTestPePy(server)
	for i := 0; i < pepyPacingRequests+1; i++ {
		if _, err := c.Project(context.Background(), "pkg"); err != nil {
			t.Fatalf("Project failed: %v", err)
		}
	}
	if *sleeps != 1 {
		t.Fatalf("expected one pacing sleep after %d requests, got %d", pepyPacingRequests, *sleeps)
	}
}

func TestWindows(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	project := &PePyProject{
		TotalDownloads: 1000,
		Downloads: map[string]map[string]int{
			"2024-05-09": {"1.0": 2, "1.1": 3}, // anchor day
			"2024-05-05": {"1.0": 3},           // inside the week window
			"2024-04-20": {"1.0": 2},           // inside the month window only
			"2024-01-01": {"1.0": 100},         // outside every window
			"not-a-date": {"1.0": 50},
		},
	}

	w := project.Windows(now)
	if w.Total != 1000 {
		t.Fatalf("total = %d", w.Total)
	}
	if w.Monthly != 10 {
		t.Fatalf("monthly = %d, want 10", w.Monthly)
	}
	if w.Weekly != 8 {
		t.Fatalf("weekly = %d, want 8", w.Weekly)
	}
	if w.Daily != 5 {
		t.Fatalf("daily = %d, want 5", w.Daily)
	}
}

func TestWindows_NoData(t *testing.T) {
	project := &PePyProject{TotalDownloads: 7}
	w := project.Windows(time.Now())
	if w.Total != 7 || w.Monthly != 0 || w.Weekly != 0 || w.Daily != 0 {
		t.Fatalf("unexpected windows: %+v", w)
	}
}
