// package main is the entry point for the recombine tool
package main

import (
	"log/slog"
	"os"

	configcmd "github.com/alan/recombine/cmd/config"
	"github.com/alan/recombine/cmd/poll"
	"github.com/alan/recombine/cmd/status"
	"github.com/alan/recombine/internal/commands"
	"github.com/alan/recombine/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	var opts commands.GlobalOptions
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "recombine",
		Short: "Propagate upstream commits into a review-gated downstream fork",
		Long: `recombine watches upstream branches and carries every new upstream commit into
a downstream fork through its review system. Each commit is cherry-picked onto the
downstream patches, uploaded for review and followed until it merges, either one
review per commit or as a single chain on top of a lock point.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel, logFormat)
		},
	}

	// Add global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "projects.yaml", "Projects configuration file path")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	flags.StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")
	flags.StringVarP(&opts.BaseDir, "base-dir", "d", "", "Directory holding the project workspaces (overrides base-dir in the config)")
	flags.StringVarP(&opts.Projects, "projects", "p", "", "Comma separated list of projects to operate on")
	flags.StringVarP(&opts.WatchMethod, "watch-method", "m", "", "Operate only on projects with this watch method")
	flags.StringVarP(&opts.WatchBranches, "watch-branches", "w", "", "Comma separated list of original branches or glob patterns")
	flags.BoolVar(&opts.NoFetch, "no-fetch", false, "Use the workspaces as they are, without fetching remotes")
	flags.StringVar(&opts.SSHKey, "ssh-key", "", "Private key for review system SSH connections (default: ssh-agent)")

	rootCmd.AddCommand(poll.NewPollCmd(&opts, config.LoadConfig))
	rootCmd.AddCommand(status.NewStatusCmd(&opts, config.LoadConfig))
	rootCmd.AddCommand(configcmd.NewConfigCmd(&opts, config.LoadConfig, config.SaveConfig))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}
