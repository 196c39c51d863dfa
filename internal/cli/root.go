// Package cli provides the command-line interface for infoscape.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".infoscape"

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "infoscape",
	Short: "Aggregate public channel feeds into topical pages",
	Long: "infoscape scrapes public Telegram channel previews into a local store and serves them " +
		"as widgets grouped into pages. A chat bot hands out login links that unlock hidden sources.",
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		slog.SetDefault(newLogger(os.Stderr, logLevel))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("infoscape %s (%s)\n", Version, Commit)
	},
}

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir, "config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", level, "log level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
