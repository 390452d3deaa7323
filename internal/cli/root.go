// Package cli implements the parley command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scalytics/parley/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/scalytics/parley/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____            _\n" +
		" |  _ \\ __ _ _ __| | ___ _   _\n" +
		" | |_) / _` | '__| |/ _ \\ | | |\n" +
		" |  __/ (_| | |  | |  __/ |_| |\n" +
		" |_|   \\__,_|_|  |_|\\___|\\__, |\n" +
		"                         |___/\n"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:          "parley",
	Short:        "Parley - conversational chat assistant",
	Long:         color.CyanString(logo) + "\nA chat assistant that keeps per-participant context and replies with text, media or research.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.parley/config.json or $PARLEY_CONFIG)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(feedbackCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "Parley Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

// loadConfig honours --config, then the default lookup.
func loadConfig() (*config.Config, error) {
	if p := strings.TrimSpace(configFlag); p != "" {
		return config.LoadFrom(p)
	}
	return config.Load()
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
