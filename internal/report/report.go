// Package report defines the shared keyed record set that every fetch step
// reads and writes. Records are created exactly once, by the discovery step;
// later steps look records up by name and skip silently when the name is
// absent (the repository was filtered out or never seen).
package report

import "sort"

// Meta describes one collection run.
type Meta struct {
	CreatedAt string `json:"created_at"`
}

// OrgInfo describes the organization the run targeted.
type OrgInfo struct {
	Login             string `json:"login"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	CreatedAt         string `json:"created_at"`
	RepositoriesCount int    `json:"repositories_count"`
}

// RepositoryRecord is one repository's accumulated metrics. Field defaults
// (zero/empty/false) mean "no data"; steps that find nothing for a metric
// leave the default rather than writing a sentinel. Age and response metrics
// are in milliseconds.
type RepositoryRecord struct {
	RepositoryName string   `json:"repository_name"`
	NameWithOwner  string   `json:"repo_name_with_owner"`
	LicenseName    string   `json:"license_name"`
	Topics         []string `json:"topics"`

	ProjectsV2Count         int `json:"projects_v2_count"`
	DiscussionsCount        int `json:"discussions_count"`
	ForksCount              int `json:"forks_count"`
	TotalIssuesCount        int `json:"total_issues_count"`
	OpenIssuesCount         int `json:"open_issues_count"`
	ClosedIssuesCount       int `json:"closed_issues_count"`
	TotalPullRequestsCount  int `json:"total_pull_requests_count"`
	OpenPullRequestsCount   int `json:"open_pull_requests_count"`
	ClosedPullRequestsCount int `json:"closed_pull_requests_count"`
	MergedPullRequestsCount int `json:"merged_pull_requests_count"`
	WatchersCount           int `json:"watchers_count"`
	StarsCount              int `json:"stars_count"`
	CollaboratorsCount      int `json:"collaborators_count"`
	TotalDownloadCount      int `json:"total_download_count"`
	MonthlyDownloadCount    int `json:"monthly_download_count"`
	WeeklyDownloadCount     int `json:"weekly_download_count"`
	DailyDownloadCount      int `json:"daily_download_count"`
	ContributorsCount       int `json:"contributors_count"`
	CondaTotalDownloads     int `json:"conda_total_downloads"`
	CondaMonthlyDownloads   int `json:"conda_monthly_downloads"`

	DiscussionsEnabled bool `json:"discussions_enabled"`
	ProjectsEnabled    bool `json:"projects_enabled"`
	IssuesEnabled      bool `json:"issues_enabled"`

	OpenIssuesAverageAge     float64 `json:"open_issues_average_age"`
	OpenIssuesMedianAge      float64 `json:"open_issues_median_age"`
	ClosedIssuesAverageAge   float64 `json:"closed_issues_average_age"`
	ClosedIssuesMedianAge    float64 `json:"closed_issues_median_age"`
	IssuesResponseAverageAge float64 `json:"issues_response_average_age"`
	IssuesResponseMedianAge  float64 `json:"issues_response_median_age"`
}

// AccumulateConda adds conda download counts in place. Counts for a logical
// package may arrive under several historical names, so conda totals sum
// rather than overwrite.
func (r *RepositoryRecord) AccumulateConda(total, monthly int) {
	r.CondaTotalDownloads += total
	r.CondaMonthlyDownloads += monthly
}

// Report is the top-level output of a run: run metadata, organization
// metadata, and the mapping from repository name to record. It is owned by
// the pipeline for the duration of one run and handed to the output writer
// once all steps complete.
type Report struct {
	Meta         Meta                         `json:"meta"`
	OrgInfo      OrgInfo                      `json:"org_info"`
	Repositories map[string]*RepositoryRecord `json:"repositories"`
}

func New() *Report {
	return &Report{
		Repositories: make(map[string]*RepositoryRecord),
	}
}

// Ensure returns the record for name, creating it with defaults on first
// sight. Only the discovery step should call this.
func (r *Report) Ensure(name string) *RepositoryRecord {
	if rec, ok := r.Repositories[name]; ok {
		return rec
	}
	rec := &RepositoryRecord{
		RepositoryName: name,
		Topics:         []string{},
	}
	r.Repositories[name] = rec
	return rec
}

// Get returns the existing record for name. Steps after discovery must use
// Get and skip silently on a miss.
func (r *Report) Get(name string) (*RepositoryRecord, bool) {
	rec, ok := r.Repositories[name]
	return rec, ok
}

// Names returns the repository names currently in the report, sorted for
// deterministic iteration.
func (r *Report) Names() []string {
	names := make([]string, 0, len(r.Repositories))
	for name := range r.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
