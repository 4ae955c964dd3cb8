package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	gh "orgpulse/internal/github"
	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

// issueAgesQuery pages open and closed issues together, one cursor each, so
// a repository's full age history costs half the requests of two separate
// walks.
const issueAgesQuery = `
query ($organization: String!, $repoName: String!, $openCursor: String, $closedCursor: String) {
    repository(owner: $organization, name: $repoName) {
        openIssues: issues(states: OPEN, first: 100, after: $openCursor) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                createdAt
            }
        }
        closedIssues: issues(states: CLOSED, first: 100, after: $closedCursor) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                createdAt
            }
        }
    }
}`

const responseTimesQuery = `
query ($cursor: String, $organization: String!, $repoName: String!, $since: DateTime!) {
    repository(owner: $organization, name: $repoName) {
        issues(first: 100, after: $cursor, filterBy: {since: $since}) {
            pageInfo {
                hasNextPage
                endCursor
            }
            nodes {
                author {
                    login
                }
                createdAt
                comments(first: 10) {
                    nodes {
                        createdAt
                        author {
                            __typename
                            login
                        }
                        isMinimized
                    }
                }
            }
        }
    }
}`

type issueMetricsStep struct {
	now func() time.Time
}

// IssueMetrics computes per-repository issue age and first-response
// statistics, in milliseconds. Repositories are processed concurrently up
// to the configured limit; a failure for one repository is logged and its
// metrics stay at zero, it never aborts the step.
func IssueMetrics() pipeline.Step {
	return &issueMetricsStep{now: time.Now}
}

func (s *issueMetricsStep) Name() string { return "issue-metrics" }

func (s *issueMetricsStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	names := rep.Names()
	env.Logger.Printf("calculating issue metrics for %d repositories", len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.Concurrency)
	for _, name := range names {
		rec, ok := rep.Get(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := s.collectRepo(gctx, env, name, rec); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				env.Logger.Printf("%s: issue metrics failed: %v", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *issueMetricsStep) collectRepo(ctx context.Context, env *pipeline.Env, name string, rec *report.RepositoryRecord) error {
	openAges, closedAges, err := s.fetchAges(ctx, env, name)
	if err != nil {
		return fmt.Errorf("issue ages: %w", err)
	}
	rec.OpenIssuesAverageAge, rec.OpenIssuesMedianAge = ageStats(openAges)
	rec.ClosedIssuesAverageAge, rec.ClosedIssuesMedianAge = ageStats(closedAges)

	responses, err := s.fetchResponseTimes(ctx, env, name)
	if err != nil {
		return fmt.Errorf("issue response times: %w", err)
	}
	rec.IssuesResponseAverageAge, rec.IssuesResponseMedianAge = ageStats(responses)
	return nil
}

// fetchAges walks the open and closed issue connections in lockstep and
// returns the issue ages of each, relative to now.
func (s *issueMetricsStep) fetchAges(ctx context.Context, env *pipeline.Env, name string) (open, closed []float64, err error) {
	now := s.now().UTC()

	var openCursor, closedCursor *string
	openMore, closedMore := true, true

	for openMore || closedMore {
		data, err := s.query(ctx, env, gh.GraphQLRequest{
			Query: issueAgesQuery,
			Variables: map[string]any{
				"organization": env.Run.Organization,
				"repoName":     name,
				"openCursor":   cursorValue(openCursor),
				"closedCursor": cursorValue(closedCursor),
			},
		})
		if err != nil {
			return nil, nil, err
		}
		repo := dig(data, "repository")
		if repo == nil {
			break
		}

		if openMore {
			open = appendAges(open, connectionNodes(repo, "openIssues"), now)
			openMore, openCursor = advanceCursor(dig(repo, "openIssues"))
		}
		if closedMore {
			closed = appendAges(closed, connectionNodes(repo, "closedIssues"), now)
			closedMore, closedCursor = advanceCursor(dig(repo, "closedIssues"))
		}
	}
	return open, closed, nil
}

// fetchResponseTimes returns, for each issue updated since the lookback
// cutoff, the delay until its first valid response. Comments by the issue
// author, by bots, or minimized do not count as responses.
func (s *issueMetricsStep) fetchResponseTimes(ctx context.Context, env *pipeline.Env, name string) ([]float64, error) {
	iter := env.Client.Paginate(gh.PagedQuery{
		Query: responseTimesQuery,
		Variables: map[string]any{
			"organization": env.Run.Organization,
			"repoName":     name,
			"since":        env.Run.Since.UTC().Format(time.RFC3339),
		},
		Path: []string{"repository", "issues"},
	}, env.Logger)
	pages, err := iter.Collect(ctx)
	if err != nil {
		return nil, err
	}

	var times []float64
	for _, page := range pages {
		for _, issue := range connectionNodes(page, "repository", "issues") {
			authorLogin := ""
			if author := dig(issue, "author"); author != nil {
				authorLogin = str(author, "login")
			}
			comment, ok := firstValidComment(connectionNodes(issue, "comments"), authorLogin)
			if !ok {
				continue
			}
			created, err := time.Parse(time.RFC3339, str(issue, "createdAt"))
			if err != nil {
				continue
			}
			responded, err := time.Parse(time.RFC3339, str(comment, "createdAt"))
			if err != nil {
				continue
			}
			times = append(times, durationMillis(responded.Sub(created)))
		}
	}
	return times, nil
}

// query runs one GraphQL request, absorbing rate-limit signals via the
// shared budget the same way the page iterator does.
func (s *issueMetricsStep) query(ctx context.Context, env *pipeline.Env, req gh.GraphQLRequest) (map[string]any, error) {
	for {
		resp, err := gh.DoGraphQL[map[string]any](ctx, env.Client, req)
		if err != nil {
			var rle *gh.RateLimitError
			if errors.As(err, &rle) {
				env.Logger.Printf("rate limit exceeded, waiting %s", env.Client.Cooldown)
				env.Client.Budget.StartCooldown(env.Client.Cooldown)
				if werr := env.Client.Budget.Wait(ctx); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, err
		}
		return resp.Data, nil
	}
}

func firstValidComment(comments []map[string]any, issueAuthor string) (map[string]any, bool) {
	for _, c := range comments {
		author := dig(c, "author")
		if author == nil {
			continue
		}
		if str(author, "login") == issueAuthor {
			continue
		}
		if str(author, "__typename") == "Bot" {
			continue
		}
		if boolean(c, "isMinimized") {
			continue
		}
		return c, true
	}
	return nil, false
}

func appendAges(ages []float64, nodes []map[string]any, now time.Time) []float64 {
	for _, node := range nodes {
		created, err := time.Parse(time.RFC3339, str(node, "createdAt"))
		if err != nil {
			continue
		}
		ages = append(ages, durationMillis(now.Sub(created)))
	}
	return ages
}

// advanceCursor reads a connection's pageInfo and returns whether more
// pages remain plus the cursor to resume from.
func advanceCursor(conn map[string]any) (bool, *string) {
	info := dig(conn, "pageInfo")
	if info == nil {
		return false, nil
	}
	if !boolean(info, "hasNextPage") {
		return false, nil
	}
	cursor := str(info, "endCursor")
	return true, &cursor
}

func cursorValue(cursor *string) any {
	if cursor == nil {
		return nil
	}
	return *cursor
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ageStats reduces a sample to its mean and median. An empty sample yields
// zeros rather than an error: no issues is a normal state, not a failure.
func ageStats(values []float64) (average, median float64) {
	if len(values) == 0 {
		return 0, 0
	}
	data := stats.Float64Data(values)
	average, _ = stats.Mean(data)
	median, _ = stats.Median(data)
	return average, median
}
