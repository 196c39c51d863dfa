package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/store"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored posts per source",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

const staleDays = 7

// sourceRow joins a configured source with its stored post statistics.
// Sources that were never fetched have zero Posts and zero times.
type sourceRow struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Hidden bool      `json:"hidden"`
	Posts  int       `json:"posts"`
	First  time.Time `json:"first,omitzero"`
	Last   time.Time `json:"last,omitzero"`
}

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	stats, err := db.SourceStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	rows := joinStats(cfg, stats)

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, rows)
	case "terminal", "":
		printStats(os.Stdout, rows, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

// joinStats lists configured sources in page order. Stored posts of sources
// no longer in the config are appended under their id.
func joinStats(cfg *config.Config, stats []store.SourceStats) []sourceRow {
	byID := make(map[string]store.SourceStats, len(stats))
	for _, st := range stats {
		byID[st.SourceID] = st
	}

	rows := make([]sourceRow, 0, len(cfg.Sources)+len(stats))
	seen := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.SortedSources() {
		seen[src.ID] = true
		row := sourceRow{ID: src.ID, Title: src.Title, Hidden: src.Hidden}
		if st, ok := byID[src.ID]; ok {
			row.Posts, row.First, row.Last = st.Posts, st.First, st.Last
		}
		rows = append(rows, row)
	}
	for _, st := range stats {
		if seen[st.SourceID] {
			continue
		}
		rows = append(rows, sourceRow{ID: st.SourceID, Title: st.SourceID, Posts: st.Posts, First: st.First, Last: st.Last})
	}
	return rows
}

func printStatsJSON(w io.Writer, rows []sourceRow) error {
	total := 0
	for _, r := range rows {
		total += r.Posts
	}
	out := struct {
		Sources    []sourceRow `json:"sources"`
		TotalPosts int         `json:"total_posts"`
	}{rows, total}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, rows []sourceRow, now time.Time) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "No sources configured.")
		return
	}

	total := 0
	maxTitle := len("Source")
	for _, r := range rows {
		total += r.Posts
		width := len([]rune(r.Title))
		if r.Hidden {
			width++
		}
		maxTitle = max(maxTitle, width)
	}
	maxTitle = min(maxTitle, 40)

	_, _ = fmt.Fprintf(w, "infoscape stats: %s posts from %d sources\n\n", humanize.Comma(int64(total)), len(rows))
	_, _ = fmt.Fprintf(w, "  %-*s  %7s  %s\n", maxTitle, "Source", "Posts", "Last post")

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale, empty []sourceRow
	for _, r := range rows {
		title := truncate(r.Title, maxTitle)
		if r.Hidden {
			title = truncate(r.Title, maxTitle-1) + "*"
		}
		last := "never"
		if r.Posts > 0 {
			last = humanize.RelTime(r.Last, now, "ago", "from now")
		}
		_, _ = fmt.Fprintf(w, "  %-*s  %7s  %s\n", maxTitle, title, humanize.Comma(int64(r.Posts)), last)

		switch {
		case r.Posts == 0:
			empty = append(empty, r)
		case r.Last.Before(staleThreshold):
			stale = append(stale, r)
		}
	}
	_, _ = fmt.Fprintln(w)

	if len(stale) > 0 {
		_, _ = fmt.Fprintf(w, "--- Stale Sources (no posts in %d+ days) ---\n\n", staleDays)
		for _, r := range stale {
			_, _ = fmt.Fprintf(w, "  %s: last post %s\n", r.Title, humanize.RelTime(r.Last, now, "ago", "from now"))
		}
		_, _ = fmt.Fprintln(w)
	}
	if len(empty) > 0 {
		_, _ = fmt.Fprintln(w, "--- Never Fetched ---")
		_, _ = fmt.Fprintln(w)
		for _, r := range empty {
			_, _ = fmt.Fprintf(w, "  %s (%s)\n", r.Title, r.ID)
		}
		_, _ = fmt.Fprintln(w)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
