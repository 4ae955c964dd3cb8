package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "orgpulse",
	Short: "Collect open-source health metrics for GitHub organizations",
	Long: `OrgPulse collects public health metrics for every repository of a
GitHub organization and writes one JSON report per organization.

Collected metrics include repository metadata, issue and pull request
counts, discussion counts, issue age and first-response statistics, PyPI
download counts (pepy.tech), and conda download counts (anaconda package
data).

Examples:
	# Show available commands and global flags
	orgpulse --help

	# Collect metrics for the organizations in config.yaml
	orgpulse collect

	# Collect metrics for one organization
	orgpulse collect --org my-org

	# Print build info
	orgpulse version`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (prints every API call and progress details)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
