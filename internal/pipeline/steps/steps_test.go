package steps

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"orgpulse/internal/config"
	gh "orgpulse/internal/github"
	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

// newTestEnv wires a pipeline environment against a fake API server that
// answers both REST and GraphQL requests.
func newTestEnv(t *testing.T, serverURL string) *pipeline.Env {
	t.Helper()
	client, err := gh.NewClient(context.Background(), "test-token")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	base, err := url.Parse(serverURL + "/")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client.REST.BaseURL = base
	client.Cooldown = time.Millisecond

	run := config.Run{
		Organization: "acme",
		Since:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	return &pipeline.Env{
		Client:      client,
		Run:         run,
		Filter:      pipeline.NewPolicy(run, pipeline.NewExclusionSet(nil, []string{"slides-"})),
		Logger:      log.New(io.Discard, "", 0),
		Concurrency: 2,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func graphqlVariables(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var req struct {
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode graphql request: %v", err)
	}
	return req.Variables
}

func TestMetaStampsCreationTime(t *testing.T) {
	fixed := time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC)
	step := &metaStep{now: func() time.Time { return fixed }}

	rep := report.New()
	out, err := step.Run(context.Background(), rep, newBareEnv())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Meta.CreatedAt != "2024-05-10T12:30:00Z" {
		t.Fatalf("created_at = %q", out.Meta.CreatedAt)
	}
}

func newBareEnv() *pipeline.Env {
	return &pipeline.Env{Logger: log.New(io.Discard, "", 0)}
}

func TestOrganizationStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/acme" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, map[string]any{
			"login":        "acme",
			"description":  "Tools for everyone",
			"created_at":   "2015-03-01T00:00:00Z",
			"public_repos": 42,
		})
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	rep, err := Organization().Run(context.Background(), report.New(), env)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.OrgInfo.Login != "acme" {
		t.Fatalf("login = %q", rep.OrgInfo.Login)
	}
	// Name falls back to login when the organization has no display name.
	if rep.OrgInfo.Name != "acme" {
		t.Fatalf("name = %q, want login fallback", rep.OrgInfo.Name)
	}
	if rep.OrgInfo.Description != "Tools for everyone" {
		t.Fatalf("description = %q", rep.OrgInfo.Description)
	}
	if rep.OrgInfo.CreatedAt != "2015-03-01T00:00:00Z" {
		t.Fatalf("created_at = %q", rep.OrgInfo.CreatedAt)
	}
	if rep.OrgInfo.RepositoriesCount != 42 {
		t.Fatalf("repositories_count = %d", rep.OrgInfo.RepositoriesCount)
	}
}

func TestOrganizationStepNotFoundAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	if _, err := Organization().Run(context.Background(), report.New(), env); err == nil {
		t.Fatalf("expected error for unknown organization")
	}
}

func TestIssuesAndPRsStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"data": map[string]any{
				"organization": map[string]any{
					"repositories": map[string]any{
						"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
						"nodes": []any{
							map[string]any{
								"name":               "alpha",
								"totalIssues":        map[string]any{"totalCount": 10},
								"openIssues":         map[string]any{"totalCount": 4},
								"closedIssues":       map[string]any{"totalCount": 6},
								"totalPullRequests":  map[string]any{"totalCount": 20},
								"openPullRequests":   map[string]any{"totalCount": 2},
								"closedPullRequests": map[string]any{"totalCount": 8},
								"mergedPullRequests": map[string]any{"totalCount": 10},
							},
							// Known to the provider but filtered out of the report:
							// the step must skip it, not create a record.
							map[string]any{
								"name":        "slides-talk",
								"totalIssues": map[string]any{"totalCount": 99},
							},
							map[string]any{
								"name":        "never-discovered",
								"totalIssues": map[string]any{"totalCount": 50},
							},
							nil,
						},
					},
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	rep := report.New()
	rep.Ensure("alpha")

	out, err := IssuesAndPRs().Run(context.Background(), rep, env)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Repositories) != 1 {
		t.Fatalf("step must not create records, got %d", len(out.Repositories))
	}
	rec, _ := out.Get("alpha")
	if rec.TotalIssuesCount != 10 || rec.OpenIssuesCount != 4 || rec.ClosedIssuesCount != 6 {
		t.Fatalf("issue counts = %d/%d/%d", rec.TotalIssuesCount, rec.OpenIssuesCount, rec.ClosedIssuesCount)
	}
	if rec.TotalPullRequestsCount != 20 || rec.OpenPullRequestsCount != 2 ||
		rec.ClosedPullRequestsCount != 8 || rec.MergedPullRequestsCount != 10 {
		t.Fatalf("pr counts = %d/%d/%d/%d", rec.TotalPullRequestsCount, rec.OpenPullRequestsCount,
			rec.ClosedPullRequestsCount, rec.MergedPullRequestsCount)
	}
}

func TestDiscussionsStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"data": map[string]any{
				"organization": map[string]any{
					"repositories": map[string]any{
						"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
						"nodes": []any{
							map[string]any{"name": "alpha", "discussions": map[string]any{"totalCount": 7}},
							map[string]any{"name": "missing", "discussions": map[string]any{"totalCount": 3}},
						},
					},
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	rep := report.New()
	rep.Ensure("alpha")

	out, err := Discussions().Run(context.Background(), rep, env)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	rec, _ := out.Get("alpha")
	if rec.DiscussionsCount != 7 {
		t.Fatalf("discussions_count = %d, want 7", rec.DiscussionsCount)
	}
	if _, ok := out.Get("missing"); ok {
		t.Fatalf("step must not create records")
	}
}

func TestNodeHelpers(t *testing.T) {
	node := map[string]any{
		"name":        "alpha",
		"isFork":      true,
		"forkCount":   float64(3),
		"watchers":    map[string]any{"totalCount": float64(9)},
		"licenseInfo": nil,
	}
	if str(node, "name") != "alpha" || str(node, "missing") != "" {
		t.Fatalf("str misread")
	}
	if !boolean(node, "isFork") || boolean(node, "missing") {
		t.Fatalf("boolean misread")
	}
	if number(node, "forkCount") != 3 || number(node, "missing") != 0 {
		t.Fatalf("number misread")
	}
	if totalCount(node, "watchers") != 9 || totalCount(node, "licenseInfo") != 0 {
		t.Fatalf("totalCount misread")
	}
	if licenseName(node) != "No License" {
		t.Fatalf("nil license must map to No License")
	}
	withLicense := map[string]any{"licenseInfo": map[string]any{"name": "MIT License"}}
	if licenseName(withLicense) != "MIT License" {
		t.Fatalf("license name misread")
	}
}
