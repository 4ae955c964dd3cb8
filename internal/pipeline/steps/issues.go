package steps

import (
	"context"
	"fmt"

	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

const issuesAndPRsQuery = `
query ($cursor: String, $organization: String!) {
    organization(login: $organization) {
        repositories(privacy: PUBLIC, first: 100, isFork: false, isArchived: false, after: $cursor) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                name
                totalIssues: issues {
                    totalCount
                }
                closedIssues: issues(states: CLOSED) {
                    totalCount
                }
                openIssues: issues(states: OPEN) {
                    totalCount
                }
                openPullRequests: pullRequests(states: OPEN) {
                    totalCount
                }
                totalPullRequests: pullRequests {
                    totalCount
                }
                closedPullRequests: pullRequests(states: CLOSED) {
                    totalCount
                }
                mergedPullRequests: pullRequests(states: MERGED) {
                    totalCount
                }
            }
        }
    }
}`

type issuesAndPRsStep struct{}

// IssuesAndPRs merges issue and pull request state counts into existing
// records. Repositories without a record (filtered out at discovery) are
// skipped.
func IssuesAndPRs() pipeline.Step {
	return &issuesAndPRsStep{}
}

func (s *issuesAndPRsStep) Name() string { return "issues-and-prs" }

func (s *issuesAndPRsStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	iter := env.Client.Paginate(gqlOrgRepos(issuesAndPRsQuery, env.Run.Organization), env.Logger)
	pages, err := iter.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("list issue and pr counts: %w", err)
	}

	for _, page := range pages {
		for _, node := range connectionNodes(page, "organization", "repositories") {
			name := str(node, "name")
			if env.Filter.Exclusions.Contains(name) {
				continue
			}
			rec, ok := rep.Get(name)
			if !ok {
				continue
			}
			rec.TotalIssuesCount = totalCount(node, "totalIssues")
			rec.OpenIssuesCount = totalCount(node, "openIssues")
			rec.ClosedIssuesCount = totalCount(node, "closedIssues")
			rec.TotalPullRequestsCount = totalCount(node, "totalPullRequests")
			rec.OpenPullRequestsCount = totalCount(node, "openPullRequests")
			rec.ClosedPullRequestsCount = totalCount(node, "closedPullRequests")
			rec.MergedPullRequestsCount = totalCount(node, "mergedPullRequests")
		}
	}
	return rep, nil
}
