package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, database and secrets",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	hidden := 0
	for _, s := range cfg.Sources {
		if s.Hidden {
			hidden++
		}
	}
	printCheck(true, "config.yaml (%d sources, %d hidden, %d pages)", len(cfg.Sources), hidden, len(cfg.Pages))
	printCheck(true, "timezone %s", cfg.Render.Timezone)

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", cfg.Storage.Path)
	}

	switch {
	case cfg.Auth.Secret != "":
		printCheck(true, "auth secret (%s)", cfg.Auth.SecretEnv)
	case hidden > 0:
		printCheck(false, "auth secret: %s is empty, hidden sources cannot be unlocked", cfg.Auth.SecretEnv)
		ok = false
	default:
		printInfo("auth secret %s not set (no hidden sources)", cfg.Auth.SecretEnv)
	}

	switch {
	case cfg.Bot.Token == "":
		printInfo("bot token %s not set, login bot disabled", cfg.Bot.TokenEnv)
	case cfg.Bot.SiteHost == "":
		printCheck(false, "bot: site_host is required when %s is set", cfg.Bot.TokenEnv)
		ok = false
	case cfg.Bot.Mode == config.BotModeWebhook && cfg.Bot.WebhookSecret == "":
		printCheck(false, "bot: webhook mode requires %s", cfg.Bot.WebhookSecretEnv)
		ok = false
	default:
		printCheck(true, "bot (%s mode, site %s)", cfg.Bot.Mode, cfg.Bot.SiteHost)
	}

	if cfg.Privacy.Redact.Enabled {
		printInfo("redaction enabled (%d patterns)", len(cfg.Privacy.Redact.Patterns))
	}

	if db != nil {
		checkSourceHealth(cmd.Context(), db, cfg, time.Now())
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkSourceHealth reports stale and never-fetched sources. It never fails
// the check run.
func checkSourceHealth(ctx context.Context, db *store.Store, cfg *config.Config, now time.Time) {
	stats, err := db.SourceStats(ctx)
	if err != nil {
		printInfo("source health unavailable: %v", err)
		return
	}
	if len(stats) == 0 {
		printInfo("no posts stored yet, run 'infoscape fetch'")
		return
	}

	fmt.Println()
	staleThreshold := now.AddDate(0, 0, -staleDays)
	for _, r := range joinStats(cfg, stats) {
		switch {
		case r.Posts == 0:
			printInfo("never fetched: %s (%s)", r.Title, r.ID)
		case r.Last.Before(staleThreshold):
			printInfo("stale: %s, last post %s", r.Title, humanize.RelTime(r.Last, now, "ago", "from now"))
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
