package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"orgpulse/internal/config"
)

func TestExclusionSetContains(t *testing.T) {
	set := NewExclusionSet([]string{"legacy-repo", " padded "}, []string{"slides-", "course-"})

	cases := []struct {
		name string
		want bool
	}{
		{"legacy-repo", true},
		{"padded", true},
		{"slides-2024", true},
		{"course-intro", true},
		{"slides", false}, // prefix must actually be a prefix, not the whole set
		{"normal-repo", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := set.Contains(tc.name); got != tc.want {
				t.Fatalf("Contains(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestLoadExclusionSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "excluded_repos.json")
	if err := os.WriteFile(path, []byte(`["one", "two"]`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	set, err := LoadExclusionSet(path, []string{"slides-"})
	if err != nil {
		t.Fatalf("LoadExclusionSet failed: %v", err)
	}
	for _, name := range []string{"one", "two", "slides-x"} {
		if !set.Contains(name) {
			t.Errorf("expected %q to be excluded", name)
		}
	}
	if set.Contains("three") {
		t.Errorf("three must not be excluded")
	}

	// Empty path: prefixes only.
	set, err = LoadExclusionSet("", []string{"course-"})
	if err != nil {
		t.Fatalf("LoadExclusionSet with empty path failed: %v", err)
	}
	if !set.Contains("course-a") || set.Contains("one") {
		t.Fatalf("prefix-only set misbehaved")
	}

	if _, err := LoadExclusionSet(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"not": "an array"}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadExclusionSet(bad, nil); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}

func TestPolicyEligible(t *testing.T) {
	exclusions := NewExclusionSet([]string{"blocked"}, []string{"slides-"})

	cases := []struct {
		name            string
		includeArchived bool
		includeForks    bool
		repo            string
		archived, fork  bool
		want            bool
	}{
		{"plain repo", false, false, "alpha", false, false, true},
		{"archived excluded by default", false, false, "alpha", true, false, false},
		{"archived included when configured", true, false, "alpha", true, false, true},
		{"fork excluded by default", false, false, "alpha", false, true, false},
		{"fork included when configured", false, true, "alpha", false, true, true},
		{"excluded name", false, false, "blocked", false, false, false},
		{"excluded prefix", false, false, "slides-talk", false, false, false},
		{"excluded name beats include flags", true, true, "blocked", true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := NewPolicy(config.Run{
				Organization:    "acme",
				IncludeArchived: tc.includeArchived,
				IncludeForks:    tc.includeForks,
			}, exclusions)
			if got := policy.Eligible(tc.repo, tc.archived, tc.fork); got != tc.want {
				t.Fatalf("Eligible(%q, archived=%v, fork=%v) = %v, want %v", tc.repo, tc.archived, tc.fork, got, tc.want)
			}
		})
	}
}
