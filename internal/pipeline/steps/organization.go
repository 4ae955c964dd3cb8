package steps

import (
	"context"
	"fmt"
	"time"

	"orgpulse/internal/pipeline"
	"orgpulse/internal/report"
)

type organizationStep struct{}

// Organization fetches organization-level metadata over REST. A failure
// here aborts the run: an organization that cannot be resolved means every
// later step would be querying the void.
func Organization() pipeline.Step {
	return &organizationStep{}
}

func (s *organizationStep) Name() string { return "organization" }

func (s *organizationStep) Run(ctx context.Context, rep *report.Report, env *pipeline.Env) (*report.Report, error) {
	org, resp, err := env.Client.REST.Organizations.Get(ctx, env.Run.Organization)
	if resp != nil {
		env.Client.Budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", env.Run.Organization, err)
	}

	name := org.GetName()
	if name == "" {
		name = org.GetLogin()
	}
	createdAt := ""
	if ts := org.GetCreatedAt(); !ts.IsZero() {
		createdAt = ts.UTC().Format(time.RFC3339)
	}

	rep.OrgInfo = report.OrgInfo{
		Login:             org.GetLogin(),
		Name:              name,
		Description:       org.GetDescription(),
		CreatedAt:         createdAt,
		RepositoriesCount: org.GetPublicRepos(),
	}
	return rep, nil
}
