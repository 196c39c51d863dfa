package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/infoscape/internal/source"

	_ "modernc.org/sqlite"
)

// ErrStore marks failures of the underlying database. Callers treat it as
// fatal: it means broken infrastructure, not bad input.
var ErrStore = errors.New("store failure")

const busyTimeoutMillis = 5000

// Store persists posts keyed by (source_id, link) in SQLite.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// SourceStats aggregates the stored posts of one source.
type SourceStats struct {
	SourceID string
	Posts    int
	First    time.Time
	Last     time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, storeErr("open sqlite", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, storeErr("migrate", err)
	}

	return &Store{db: db}, nil
}

// dsn sets per-connection pragmas so every pooled connection waits on locks
// instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts the post or replaces every column of the stored row with the
// same (source_id, link). Any timestamp is accepted, including zero and
// pre-1970 values; posts without a parsed time never reach the store.
func (s *Store) Upsert(ctx context.Context, p source.Post) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if strings.TrimSpace(p.Link) == "" {
		return errors.New("link is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (source_id, link, timestamp, heading, text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, link) DO UPDATE SET
			timestamp = excluded.timestamp,
			heading = excluded.heading,
			text = excluded.text
	`, p.SourceID, p.Link, p.Timestamp, p.Heading, p.Text)
	if err != nil {
		return storeErr("upsert post", err)
	}
	return nil
}

// Query returns up to limit posts of the given sources, newest first. Posts
// with equal timestamps are ordered by source id and link.
func (s *Store) Query(ctx context.Context, sourceIDs []string, limit int) ([]source.Post, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if len(sourceIDs) == 0 || limit <= 0 {
		return []source.Post{}, nil
	}

	placeholders := make([]string, len(sourceIDs))
	args := make([]any, 0, len(sourceIDs)+1)
	for i, id := range sourceIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT source_id, link, timestamp, heading, text
		FROM posts
		WHERE source_id IN (%s)
		ORDER BY timestamp DESC, source_id ASC, link ASC
		LIMIT ?`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query posts", err)
	}
	defer func() { _ = rows.Close() }()

	posts := []source.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate posts", err)
	}

	return posts, nil
}

// SourceStats returns per-source post counts and time range, ordered by source id.
func (s *Store) SourceStats(ctx context.Context) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM posts
		GROUP BY source_id
		ORDER BY source_id
	`)
	if err != nil {
		return nil, storeErr("source stats", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var (
			st          SourceStats
			first, last int64
		)
		if err := rows.Scan(&st.SourceID, &st.Posts, &first, &last); err != nil {
			return nil, storeErr("scan source stats", err)
		}
		st.First = time.Unix(first, 0)
		st.Last = time.Unix(last, 0)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate source stats", err)
	}

	return stats, nil
}

// PruneOlderThan deletes posts published before cutoff and returns how many
// rows were removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM posts WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, storeErr("prune posts", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(scanner rowScanner) (source.Post, error) {
	var p source.Post
	if err := scanner.Scan(&p.SourceID, &p.Link, &p.Timestamp, &p.Heading, &p.Text); err != nil {
		return source.Post{}, storeErr("scan post", err)
	}
	return p, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
