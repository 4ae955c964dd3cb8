// Package steps contains the fetch steps of the collection pipeline, one
// file per external data concern. Steps share a raw-page node vocabulary:
// GraphQL pages arrive as nested map[string]any and these helpers keep the
// traversal noise out of the step logic.
package steps

import gh "orgpulse/internal/github"

// gqlOrgRepos builds the paged query shape shared by every step that walks
// the organization's repository connection.
func gqlOrgRepos(query, organization string) gh.PagedQuery {
	return gh.PagedQuery{
		Query:     query,
		Variables: map[string]any{"organization": organization},
		Path:      []string{"organization", "repositories"},
	}
}

func dig(m map[string]any, path ...string) map[string]any {
	node := m
	for _, key := range path {
		next, ok := node[key].(map[string]any)
		if !ok {
			return nil
		}
		node = next
	}
	return node
}

// connectionNodes returns the nodes array of the connection at path,
// dropping null entries.
func connectionNodes(page map[string]any, path ...string) []map[string]any {
	conn := dig(page, path...)
	if conn == nil {
		return nil
	}
	raw, ok := conn["nodes"].([]any)
	if !ok {
		return nil
	}
	nodes := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if node, ok := entry.(map[string]any); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// number reads a JSON number (decoded as float64) as an int.
func number(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

// totalCount reads m[key].totalCount, the GraphQL connection-count shape.
func totalCount(m map[string]any, key string) int {
	conn := dig(m, key)
	if conn == nil {
		return 0
	}
	return number(conn, "totalCount")
}
