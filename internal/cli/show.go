package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/render"
	"github.com/ppiankov/infoscape/internal/source"
	"github.com/ppiankov/infoscape/internal/store"
)

var (
	showFormat string
	showLimit  int
	showPublic bool
)

var showCmd = &cobra.Command{
	Use:   "show [page]",
	Short: "Print the latest posts of a page or of all sources",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showAction,
}

func init() {
	showCmd.Flags().StringVar(&showFormat, "format", "terminal", "output format: terminal, json")
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "posts per source (default from config)")
	showCmd.Flags().BoolVar(&showPublic, "public", false, "skip hidden sources, as anonymous visitors see it")
	rootCmd.AddCommand(showCmd)
}

type postQuerier interface {
	Query(ctx context.Context, sourceIDs []string, limit int) ([]source.Post, error)
}

func showAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var formatter render.Formatter
	switch showFormat {
	case "json":
		formatter = render.NewJSON()
	case "terminal", "":
		formatter = render.NewTerminal(colorEnabled())
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", showFormat)
	}

	sources := cfg.SortedSources()
	if len(args) == 1 {
		page, ok := cfg.Page(args[0])
		if !ok {
			return fmt.Errorf("unknown page %q", args[0])
		}
		sources = page.Sources
	}

	limit := cfg.Render.Limit
	if showLimit > 0 {
		limit = showLimit
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	widgets, err := renderSources(cmd.Context(), db, render.New(cfg.Location()), sources, limit, cfg.Render.Keywords, time.Now())
	if err != nil {
		return err
	}
	return formatter.Format(os.Stdout, widgets)
}

func renderSources(ctx context.Context, q postQuerier, r *render.Renderer, sources []config.Source, limit int, keywords []string, now time.Time) ([]render.RenderedSource, error) {
	widgets := make([]render.RenderedSource, 0, len(sources))
	for _, src := range sources {
		if src.Hidden && showPublic {
			continue
		}
		posts, err := q.Query(ctx, []string{src.ID}, limit)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", src.ID, err)
		}
		widgets = append(widgets, r.RenderSource(src.Title, src.Link, posts, keywords, now))
	}
	return widgets, nil
}

// colorEnabled reports whether stdout is a terminal and NO_COLOR is unset.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
