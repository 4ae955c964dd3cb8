package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"orgpulse/internal/config"
	"orgpulse/internal/downloads"
	gh "orgpulse/internal/github"
	"orgpulse/internal/output"
	"orgpulse/internal/pipeline"
	"orgpulse/internal/pipeline/steps"
	"orgpulse/internal/report"
)

var collectFlags struct {
	configPath string
	org        string
	outDir     string
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect metrics for the configured organizations",
	Long: `Collect public health metrics for every repository of the configured
GitHub organizations and write one data_<org>.json report per organization.

Authentication:
  OrgPulse uses a GitHub access token. It prefers GITHUB_TOKEN, but can
  also reuse GitHub CLI authentication if the gh CLI is installed and
  logged in.

  PyPI download counts additionally need a pepy.tech API key in
  PEPY_API_KEY; without one that step is skipped with a warning.

Configuration:
  Settings come from a YAML file (default: config.yaml in the working
  directory) with ORGPULSE_* environment overrides. --org and --out
  override the file for one invocation.

Exit codes:
	0 = every organization collected and written
	1 = collection failed for at least one organization
	2 = configuration or authentication error (nothing was fetched)`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCollect(cmd.Context()))
	},
}

func runCollect(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(collectFlags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if collectFlags.org != "" {
		cfg.Organizations = []string{collectFlags.org}
	}
	if collectFlags.outDir != "" {
		cfg.OutputDir = collectFlags.outDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	token, _, err := gh.ResolveAuthToken(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve GitHub auth token: %v\n", err)
		return 2
	}
	if strings.TrimSpace(token) == "" {
		fmt.Fprintln(os.Stderr, "Error: GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
		return 2
	}
	client, err := gh.NewClient(ctx, token, gh.WithVerbose(verbose, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create GitHub client: %v\n", err)
		return 2
	}

	var pepy *downloads.PePyClient
	if key := strings.TrimSpace(os.Getenv("PEPY_API_KEY")); key != "" {
		pepy = downloads.NewPePyClient(key, logger)
	} else {
		logger.Printf("PEPY_API_KEY not set, pypi download counts will be skipped")
	}

	var conda *downloads.CondaSource
	if cacheDir := condaCacheDir(cfg); cacheDir != "" {
		conda = downloads.NewCondaSource(cacheDir, logger)
	} else {
		logger.Printf("no usable cache directory, conda download counts will be skipped")
	}

	exclusions, err := pipeline.LoadExclusionSet(cfg.ExcludedRepos, cfg.ExcludedPrefixes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	failed := 0
	for _, org := range cfg.Organizations {
		if err := collectOrg(ctx, cfg, org, client, pepy, conda, exclusions, logger); err != nil {
			logger.Printf("collection failed for %s: %v", org, err)
			failed++
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func collectOrg(ctx context.Context, cfg *config.Config, org string, client *gh.Client, pepy *downloads.PePyClient, conda *downloads.CondaSource, exclusions pipeline.ExclusionSet, logger *log.Logger) error {
	run, err := cfg.RunFor(org, time.Now())
	if err != nil {
		return err
	}
	logger.Printf("collecting %s (since %s)", org, run.Since.Format(time.RFC3339))
	started := time.Now()

	env := &pipeline.Env{
		Client:      client,
		Run:         run,
		Filter:      pipeline.NewPolicy(run, exclusions),
		Logger:      logger,
		Concurrency: cfg.Concurrency,
		PePy:        pepy,
		Conda:       conda,
		Legacy:      cfg.LegacyPackages,
	}
	pipe := pipeline.New(logger,
		steps.Meta(),
		steps.Organization(),
		steps.Repositories(),
		steps.IssuesAndPRs(),
		steps.Discussions(),
		steps.IssueMetrics(),
		steps.PePyDownloads(),
		steps.CondaDownloads(),
	)

	rep, err := pipe.Run(ctx, report.New(), env)
	if err != nil {
		return err
	}

	path, err := output.WriteReport(cfg.OutputDir, org, rep)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, color.GreenString("wrote %s (%d repositories, %s)", path, len(rep.Repositories), time.Since(started).Round(time.Second)))
	return nil
}

// condaCacheDir resolves the parquet cache directory: the configured path,
// or ~/.orgpulse under the user's home directory.
func condaCacheDir(cfg *config.Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".orgpulse")
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().StringVar(&collectFlags.configPath, "config", "", "Path to the YAML config file (default: ./config.yaml)")
	collectCmd.Flags().StringVar(&collectFlags.org, "org", "", "Collect a single organization, overriding the config file")
	collectCmd.Flags().StringVar(&collectFlags.outDir, "out", "", "Directory for data_<org>.json reports (overrides config)")
}
