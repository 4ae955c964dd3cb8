package steps

import (
	"context"
	"fmt"

	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

const discussionsQuery = `
query ($cursor: String, $organization: String!) {
    organization(login: $organization) {
        repositories(privacy: PUBLIC, first: 100, isFork: false, isArchived: false, after: $cursor) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                name
                discussions {
                    totalCount
                }
            }
        }
    }
}`

type discussionsStep struct{}

// Discussions merges discussion counts into existing records.
func Discussions() pipeline.Step {
	return &discussionsStep{}
}

func (s *discussionsStep) Name() string { return "discussions" }

func (s *discussionsStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	iter := env.Client.Paginate(gqlOrgRepos(discussionsQuery, env.Run.Organization), env.Logger)
	pages, err := iter.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("list discussion counts: %w", err)
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
			rec.DiscussionsCount = totalCount(node, "discussions")
		}
	}
	return rep, nil
}
