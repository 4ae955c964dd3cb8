package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v81/github"

	"orgpulse/internal/pipeline"
	"orgpulse/internal/poll"
	"orgpulse/internal/report"
)

const (
	contributorMaxRetries    = 20
	contributorRetryInterval = 10 * time.Second
)

const repositoriesQuery = `
query ($cursor: String, $organization: String!) {
    organization(login: $organization) {
        repositories(privacy: PUBLIC, first: 100, isFork: false, isArchived: false, after: $cursor) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                name
                nameWithOwner
                forkCount
                stargazerCount
                isFork
                isArchived
                hasIssuesEnabled
                hasProjectsEnabled
                hasDiscussionsEnabled
                projectsV2 {
                    totalCount
                }
                licenseInfo {
                    name
                }
                watchers {
                    totalCount
                }
                repositoryTopics(first: 20) {
                    nodes {
                        topic {
                            name
                        }
                    }
                }
            }
        }
    }
}`

type repositoriesStep struct {
	retryInterval time.Duration
}

// Repositories is the discovery step: it walks the organization's public
// repositories, applies the eligibility policy, and creates one record per
// surviving repository. It is the only step allowed to create records.
//
// Contributor counts ride along here because the provider computes them
// out-of-band: the REST stats endpoint answers 202 until its aggregation
// finishes, so the step polls pending repositories in rounds.
func Repositories() pipeline.Step {
	return &repositoriesStep{retryInterval: contributorRetryInterval}
}

func (s *repositoriesStep) Name() string { return "repositories" }

func (s *repositoriesStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	iter := env.Client.Paginate(gqlOrgRepos(repositoriesQuery, env.Run.Organization), env.Logger)
	pages, err := iter.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	var eligible []map[string]any
	for _, page := range pages {
		for _, node := range connectionNodes(page, "organization", "repositories") {
			name := str(node, "name")
			if !env.Filter.Eligible(name, boolean(node, "isArchived"), boolean(node, "isFork")) {
				continue
			}
			eligible = append(eligible, node)
		}
	}
	env.Logger.Printf("discovered %d eligible repositories", len(eligible))

	names := make([]string, 0, len(eligible))
	for _, node := range eligible {
		names = append(names, str(node, "name"))
	}
	contributors, err := s.fetchContributors(ctx, env, names)
	if err != nil {
		return nil, err
	}

	for _, node := range eligible {
		name := str(node, "name")
		rec := rep.Ensure(name)
		rec.NameWithOwner = str(node, "nameWithOwner")
		rec.LicenseName = licenseName(node)
		rec.Topics = topicNames(node)
		rec.ForksCount = number(node, "forkCount")
		rec.StarsCount = number(node, "stargazerCount")
		rec.WatchersCount = totalCount(node, "watchers")
		rec.ProjectsV2Count = totalCount(node, "projectsV2")
		rec.CollaboratorsCount = contributors[name]
		rec.IssuesEnabled = boolean(node, "hasIssuesEnabled")
		rec.ProjectsEnabled = boolean(node, "hasProjectsEnabled")
		rec.DiscussionsEnabled = boolean(node, "hasDiscussionsEnabled")
	}
	return rep, nil
}

// fetchContributors resolves contributor counts over the REST stats
// endpoint. 202 answers mark a repository pending; the poller re-probes
// pending repositories until the retry budget runs out, at which point the
// count defaults to zero.
func (s *repositoriesStep) fetchContributors(ctx context.Context, env *pipeline.Env, names []string) (map[string]int, error) {
	org := env.Run.Organization
	probe := func(ctx context.Context, name string) (int, poll.Status, error) {
		if err := env.Client.Budget.Wait(ctx); err != nil {
			return 0, poll.Failed, err
		}
		stats, resp, err := env.Client.REST.Repositories.ListContributorsStats(ctx, org, name)
		if resp != nil {
			env.Client.Budget.UpdateFromResponse(resp.Response)
		}
		if err != nil {
			var accepted *github.AcceptedError
			if errors.As(err, &accepted) {
				return 0, poll.Pending, nil
			}
			return 0, poll.Failed, err
		}
		return len(stats), poll.Ready, nil
	}

	poller, err := poll.New(probe, contributorMaxRetries, s.retryInterval, env.Logger)
	if err != nil {
		return nil, fmt.Errorf("contributors poller: %w", err)
	}
	env.Logger.Printf("fetching contributors for %d repositories", len(names))
	return poller.Resolve(ctx, names)
}

func licenseName(node map[string]any) string {
	if info := dig(node, "licenseInfo"); info != nil {
		if name := str(info, "name"); name != "" {
			return name
		}
	}
	return "No License"
}

// topicNames never returns nil: an empty topic list serializes as [].
func topicNames(node map[string]any) []string {
	topics := []string{}
	for _, entry := range connectionNodes(node, "repositoryTopics") {
		if topic := dig(entry, "topic"); topic != nil {
			if name := str(topic, "name"); name != "" {
				topics = append(topics, name)
			}
		}
	}
	return topics
}
