// Package cli provides the command-line interface for snowballrss.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"snowballrss/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "snowballrss",
	Short: "Forward new Snowball posts with screenshots",
	Long: "snowballrss polls a Snowball user timeline through RSSHub, screenshots every new post " +
		"and forwards it by email, Slack, QQ or Telegram.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "snowballrss %s (%s)\n", Version, Commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configDir, "config", "./configs", "directory holding config.yaml")
	pf.String("log-level", config.DefaultLogLevel, "log level: error, warn, info, verbose, debug")
	pf.String("log-dir", config.DefaultLogDir, "directory for the rotating log file, empty for stdout only")
	pf.String("feed-id", config.DefaultFeedID, "Snowball user id to follow")
	pf.Duration("interval", config.DefaultProducerInterval, "feed polling interval")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
