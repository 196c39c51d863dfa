package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/scheduler"
	"github.com/ppiankov/infoscape/internal/source"
	"github.com/ppiankov/infoscape/internal/store"
)

var fetchDaemonize int

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch posts from all configured sources",
	Long: "fetch downloads every source page once and stores its posts. With --daemonize N it " +
		"repeats every N seconds until interrupted.",
	RunE: fetchAction,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchDaemonize, "daemonize", 0, "repeat every N seconds until interrupted (0 = single pass, default from config)")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	interval := cfg.Fetch.Daemonize.Duration
	if cmd.Flags().Changed("daemonize") {
		if fetchDaemonize < 0 {
			return errors.New("--daemonize must not be negative")
		}
		interval = time.Duration(fetchDaemonize) * time.Second
	}

	redactor, err := cfg.Redactor()
	if err != nil {
		return fmt.Errorf("compile redact patterns: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := source.NewFetcher(source.FetcherOptions{
		Timeout:      cfg.Fetch.Timeout.Duration,
		UserAgent:    cfg.Fetch.UserAgent,
		HostInterval: cfg.Fetch.HostInterval.Duration,
	})

	s := scheduler.New(scheduler.Options{
		Sources:   schedulerSources(cfg),
		Fetcher:   fetcher,
		Store:     db,
		Redactor:  redactor,
		Workers:   cfg.Fetch.Workers,
		Retention: time.Duration(cfg.Storage.RetainDays) * 24 * time.Hour,
		OnCycle:   printCycle,
		Logger:    slog.Default(),
	})

	if interval > 0 {
		slog.Info("fetch daemon started", "interval", interval, "sources", len(cfg.Sources))
	}
	return s.Run(ctx, interval)
}

func schedulerSources(cfg *config.Config) []scheduler.Source {
	out := make([]scheduler.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		out = append(out, scheduler.Source{ID: s.ID, Link: s.Link, Parser: s.Parser})
	}
	return out
}

func printCycle(r scheduler.CycleReport) {
	fmt.Printf("Fetched %d posts from %d sources", r.Posts, r.Sources-r.Failed)
	if r.Failed > 0 {
		fmt.Printf(" (%d failed)", r.Failed)
	}
	if r.Pruned > 0 {
		fmt.Printf(" (%d old posts pruned)", r.Pruned)
	}
	fmt.Println()
}
