package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"orgpulse/internal/config"
)

// ExclusionSet holds repository names and name-prefixes to exclude. It is
// built exactly once per process, at pipeline construction, and passed by
// value to every consumer; callers never reload it mid-run.
type ExclusionSet struct {
	names    map[string]struct{}
	prefixes []string
}

func NewExclusionSet(names []string, prefixes []string) ExclusionSet {
	set := ExclusionSet{
		names:    make(map[string]struct{}, len(names)),
		prefixes: prefixes,
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set.names[n] = struct{}{}
		}
	}
	return set
}

// LoadExclusionSet reads a JSON array of repository names from path and
// combines it with the configured prefixes. An empty path yields a set with
// prefixes only.
func LoadExclusionSet(path string, prefixes []string) (ExclusionSet, error) {
	if path == "" {
		return NewExclusionSet(nil, prefixes), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExclusionSet{}, fmt.Errorf("exclusions: read %s: %w", path, err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return ExclusionSet{}, fmt.Errorf("exclusions: parse %s: %w", path, err)
	}
	return NewExclusionSet(names, prefixes), nil
}

// Contains reports whether name is excluded outright or matches an excluded
// prefix.
func (s ExclusionSet) Contains(name string) bool {
	if _, ok := s.names[name]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Policy decides repository eligibility. Every step that discovers
// repositories directly from the provider must consult the same Policy so
// the record set stays consistent; steps that only look up by name rely on
// the discovery step having applied it.
type Policy struct {
	IncludeArchived bool
	IncludeForks    bool
	Exclusions      ExclusionSet
}

// NewPolicy builds the eligibility policy for one run from the run flags
// and the process-scoped exclusion set.
func NewPolicy(run config.Run, exclusions ExclusionSet) Policy {
	return Policy{
		IncludeArchived: run.IncludeArchived,
		IncludeForks:    run.IncludeForks,
		Exclusions:      exclusions,
	}
}

// Eligible reports whether a repository may enter the report.
func (p Policy) Eligible(name string, archived, fork bool) bool {
	if archived && !p.IncludeArchived {
		return false
	}
	if fork && !p.IncludeForks {
		return false
	}
	return !p.Exclusions.Contains(name)
}
