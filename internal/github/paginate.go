package github

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// PagedQuery describes one logical cursor-paginated GraphQL query. The query
// must declare a $cursor variable; Path points from the response root to the
// connection whose pageInfo{hasNextPage,endCursor} drives pagination.
type PagedQuery struct {
	Query     string
	Variables map[string]any
	Path      []string
}

// PageIter walks a PagedQuery page by page. A fresh call to Paginate starts
// over from a nil cursor; a single iterator is not resumable once consumed.
type PageIter struct {
	client *Client
	query  PagedQuery
	logger *log.Logger
	cursor *string
	done   bool
}

// Paginate prepares an iterator over q. Pages are yielded raw (the full
// response data) so callers can read whatever they need beyond the
// connection itself.
func (c *Client) Paginate(q PagedQuery, logger *log.Logger) *PageIter {
	return &PageIter{client: c, query: q, logger: logger}
}

// Next fetches the next page. It returns (page, true, nil) while pages
// remain, (nil, false, nil) at end of stream, and (nil, false, err) on any
// error other than a rate-limit signal.
//
// A rate-limit signal never reaches the caller: Next opens the shared
// cooldown window, waits it out, and retries the same cursor, so no page is
// skipped or duplicated.
func (it *PageIter) Next(ctx context.Context) (map[string]any, bool, error) {
	if it.done {
		return nil, false, nil
	}

	for {
		vars := make(map[string]any, len(it.query.Variables)+1)
		for k, v := range it.query.Variables {
			vars[k] = v
		}
		if it.cursor != nil {
			vars["cursor"] = *it.cursor
		} else {
			vars["cursor"] = nil
		}

		resp, err := DoGraphQL[map[string]any](ctx, it.client, GraphQLRequest{
			Query:     it.query.Query,
			Variables: vars,
		})
		if err != nil {
			var rle *RateLimitError
			if errors.As(err, &rle) {
				if it.logger != nil {
					it.logger.Printf("rate limit exceeded, waiting %s", it.client.Cooldown)
				}
				it.client.Budget.StartCooldown(it.client.Cooldown)
				if werr := it.client.Budget.Wait(ctx); werr != nil {
					it.done = true
					return nil, false, werr
				}
				continue
			}
			it.done = true
			return nil, false, err
		}

		page := resp.Data
		info := pageInfoAt(page, it.query.Path)

		hasNext, _ := info["hasNextPage"].(bool)
		endCursor, hasCursor := info["endCursor"].(string)
		if hasNext && hasCursor {
			it.cursor = &endCursor
		} else {
			it.done = true
		}
		return page, true, nil
	}
}

// pageInfoAt walks path through nested objects and returns the connection's
// pageInfo map. A missing connection or pageInfo ends the stream rather than
// erroring: providers omit empty connections.
func pageInfoAt(page map[string]any, path []string) map[string]any {
	node := page
	for _, key := range path {
		next, ok := node[key].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		node = next
	}
	info, ok := node["pageInfo"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return info
}

// Collect drains the iterator and returns every page in order. Convenience
// for steps that need the whole result set before merging.
func (it *PageIter) Collect(ctx context.Context) ([]map[string]any, error) {
	var pages []map[string]any
	for {
		page, ok, err := it.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("paginate: %w", err)
		}
		if !ok {
			return pages, nil
		}
		pages = append(pages, page)
	}
}
