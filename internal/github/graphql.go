package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type GraphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// RateLimitError marks a rate-limit signal from the provider, either an HTTP
// 403/429 with an exhausted quota or a GraphQL RATE_LIMITED error. Callers
// treat it as retryable after the shared cooldown; it is never surfaced as a
// page result.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "graphql: rate limit exceeded"
	}
	return "graphql: rate limit exceeded: " + e.Message
}

func graphqlEndpoint(base *url.URL) (*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("graphql: base url is nil")
	}

	u := *base
	u.RawQuery = ""
	u.Fragment = ""

	// GitHub.com REST base: https://api.github.com/
	// GitHub.com GraphQL:   https://api.github.com/graphql
	//
	// GHES REST base is typically: https://<host>/api/v3/
	// GHES GraphQL:               https://<host>/api/graphql
	path := strings.TrimSuffix(u.Path, "/")
	if strings.HasSuffix(path, "/api/v3") {
		u.Path = "/api/graphql"
		return &u, nil
	}

	u.Path = "/graphql"
	return &u, nil
}

func isRateLimitStatus(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	default:
		return false
	}
}

// DoGraphQL executes a GraphQL POST against the API using the same underlying
// transport configuration as the REST client (auth, rate-limit waiter,
// verbose logging). Quota headers are fed back into the shared Budget.
func DoGraphQL[T any](ctx context.Context, c *Client, req GraphQLRequest) (GraphQLResponse[T], error) {
	var zero GraphQLResponse[T]

	if ctx == nil {
		return zero, fmt.Errorf("graphql: ctx is nil")
	}
	if c == nil || c.REST == nil || c.HTTP == nil {
		return zero, fmt.Errorf("graphql: client is nil")
	}

	endpoint, err := graphqlEndpoint(c.REST.BaseURL)
	if err != nil {
		return zero, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("graphql: marshal request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("graphql: build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	hresp, err := c.HTTP.Do(hreq)
	if err != nil {
		return zero, fmt.Errorf("graphql: do request: %w", err)
	}
	defer func() { _ = hresp.Body.Close() }()

	if c.Budget != nil {
		c.Budget.UpdateFromResponse(hresp)
	}

	if isRateLimitStatus(hresp) {
		return zero, &RateLimitError{Message: fmt.Sprintf("http %d", hresp.StatusCode)}
	}
	if hresp.StatusCode < 200 || hresp.StatusCode >= 300 {
		return zero, fmt.Errorf("graphql: http %d", hresp.StatusCode)
	}

	var out GraphQLResponse[T]
	if err := json.NewDecoder(hresp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("graphql: decode response: %w", err)
	}

	if len(out.Errors) > 0 {
		for _, gerr := range out.Errors {
			if gerr.Type == "RATE_LIMITED" {
				return zero, &RateLimitError{Message: gerr.Message}
			}
		}
		return zero, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}

	return out, nil
}
