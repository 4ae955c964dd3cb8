// Package config loads and validates run configuration from a YAML file,
// the environment, and CLI flags. Validation happens before any network
// activity so misconfiguration fails fast with a clear message.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultDaysLookback bounds time-windowed queries when no explicit "since"
// is configured.
const DefaultDaysLookback = 365

// Legacy-name remapping policies (see LegacyPackages).
const (
	LegacyPolicySum    = "sum"
	LegacyPolicyLatest = "latest"
)

// Run is the immutable per-run parameter set handed to every component.
// It is never mutated after construction.
type Run struct {
	Organization    string
	IncludeForks    bool
	IncludeArchived bool
	Since           time.Time
}

// LegacyPackages maps historical package names to the repository that owns
// them now. Policy decides whether counts reported under several names sum
// into one record (default) or the latest source wins.
type LegacyPackages struct {
	Policy string            `mapstructure:"policy"`
	Map    map[string]string `mapstructure:"map"`
}

type Config struct {
	// Organizations to collect, in order. A single YAML string is accepted.
	Organizations []string `mapstructure:"organization"`

	IncludeForks    bool   `mapstructure:"includeForks"`
	IncludeArchived bool   `mapstructure:"includeArchived"`
	Since           string `mapstructure:"since"`

	// OutputDir receives data_<org>.json files.
	OutputDir string `mapstructure:"output"`
	// CacheDir holds downloaded conda parquet partitions across runs.
	CacheDir string `mapstructure:"cacheDir"`

	// ExcludedRepos is a path to a JSON array of repository names to skip.
	ExcludedRepos string `mapstructure:"excludedRepos"`
	// ExcludedPrefixes skips any repository whose name starts with one.
	ExcludedPrefixes []string `mapstructure:"excludedPrefixes"`

	LegacyPackages LegacyPackages `mapstructure:"legacyPackages"`

	// Concurrency bounds per-repository fan-out inside a step.
	Concurrency int `mapstructure:"concurrency"`
}

// Load reads configuration from path (or a config.yaml in the working
// directory when path is empty) plus ORGPULSE_* environment overrides.
// A missing file is not an error; the environment alone can be enough.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("excludedPrefixes", []string{"slides-", "course-"})
	v.SetDefault("legacyPackages.policy", LegacyPolicySum)
	v.SetDefault("output", "data")
	v.SetDefault("concurrency", 4)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ORGPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The original deployment configured the organization via this variable.
	_ = v.BindEnv("organization", "ORGPULSE_ORGANIZATION", "ORGANIZATION_NAME")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	orgs := make([]string, 0, len(c.Organizations))
	for _, org := range c.Organizations {
		if o := strings.TrimSpace(org); o != "" {
			orgs = append(orgs, o)
		}
	}
	c.Organizations = orgs
	if len(c.Organizations) == 0 {
		return errors.New("at least one organization is required (config key \"organization\" or ORGANIZATION_NAME)")
	}

	if c.Since != "" {
		if _, err := parseSince(c.Since); err != nil {
			return fmt.Errorf("invalid since value %q: %w", c.Since, err)
		}
	}

	c.LegacyPackages.Policy = strings.ToLower(strings.TrimSpace(c.LegacyPackages.Policy))
	if c.LegacyPackages.Policy == "" {
		c.LegacyPackages.Policy = LegacyPolicySum
	}
	if c.LegacyPackages.Policy != LegacyPolicySum && c.LegacyPackages.Policy != LegacyPolicyLatest {
		return fmt.Errorf("unsupported legacyPackages.policy: %s (must be one of: sum, latest)", c.LegacyPackages.Policy)
	}

	if c.Concurrency <= 0 {
		return errors.New("concurrency must be >= 1")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output directory must not be empty")
	}

	return nil
}

// RunFor builds the immutable per-run parameters for one organization.
// When no "since" is configured the window defaults to DefaultDaysLookback
// days before now.
func (c *Config) RunFor(org string, now time.Time) (Run, error) {
	since := now.UTC().AddDate(0, 0, -DefaultDaysLookback)
	if c.Since != "" {
		parsed, err := parseSince(c.Since)
		if err != nil {
			return Run{}, err
		}
		since = parsed
	}
	return Run{
		Organization:    org,
		IncludeForks:    c.IncludeForks,
		IncludeArchived: c.IncludeArchived,
		Since:           since,
	}, nil
}

func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("expected RFC3339 timestamp or YYYY-MM-DD date")
}
