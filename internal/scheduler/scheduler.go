// Package scheduler runs fetch cycles over the configured sources: fetch each
// channel page, parse it, redact and upsert the posts.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/infoscape/internal/metrics"
	"github.com/ppiankov/infoscape/internal/privacy"
	"github.com/ppiankov/infoscape/internal/source"
	"github.com/ppiankov/infoscape/internal/store"
)

// Source is one channel to fetch.
type Source struct {
	ID     string
	Link   string
	Parser string
}

// Fetcher downloads a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store is the subset of store.Store used by the scheduler.
type Store interface {
	Upsert(ctx context.Context, p source.Post) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sleeper waits between daemon cycles. Sleep returns early with ctx.Err()
// when ctx is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	Sources  []Source
	Fetcher  Fetcher
	Store    Store
	Redactor *privacy.Redactor

	// Workers bounds how many sources are fetched at once. Values below 1
	// mean sequential processing.
	Workers int

	// Retention prunes posts older than now-Retention after each cycle.
	// Zero disables pruning.
	Retention time.Duration

	// OnCycle, when set, receives the report of every successful cycle.
	OnCycle func(CycleReport)

	Sleeper Sleeper
	Logger  *slog.Logger
	Now     func() time.Time
}

type Scheduler struct {
	sources   []Source
	fetcher   Fetcher
	store     Store
	redactor  *privacy.Redactor
	workers   int
	retention time.Duration
	onCycle   func(CycleReport)
	sleeper   Sleeper
	logger    *slog.Logger
	now       func() time.Time
}

// CycleReport summarizes one fetch cycle.
type CycleReport struct {
	Sources  int
	Failed   int
	Posts    int
	Pruned   int64
	Duration time.Duration
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		sources:   opts.Sources,
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		redactor:  opts.Redactor,
		workers:   opts.Workers,
		retention: opts.Retention,
		onCycle:   opts.OnCycle,
		sleeper:   opts.Sleeper,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.sleeper == nil {
		s.sleeper = timerSleeper{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunCycle fetches every source once. Fetch and parse failures are logged and
// counted in the report; a store failure cancels the cycle and is returned.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	start := s.now()
	report := CycleReport{Sources: len(s.sources)}

	var failed, posts atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, src := range s.sources {
		g.Go(func() error {
			n, err := s.fetchSource(gctx, src)
			posts.Add(int64(n))
			metrics.RecordUpserts(src.ID, n)
			if err == nil {
				metrics.RecordSourceFetch(src.ID, metrics.StatusOK)
				return nil
			}
			if errors.Is(err, store.ErrStore) {
				return fmt.Errorf("source %s: %w", src.ID, err)
			}
			failed.Add(1)
			metrics.RecordSourceFetch(src.ID, metrics.StatusFailed)
			s.logger.Warn("source failed", "source", src.ID, "error", err)
			return nil
		})
	}

	err := g.Wait()
	report.Failed = int(failed.Load())
	report.Posts = int(posts.Load())

	if err == nil && s.retention > 0 {
		cutoff := s.now().Add(-s.retention)
		report.Pruned, err = s.store.PruneOlderThan(ctx, cutoff)
		if err != nil {
			err = fmt.Errorf("prune: %w", err)
		}
	}

	report.Duration = s.now().Sub(start)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.RecordCycle(status, report.Duration)

	return report, err
}

// fetchSource returns how many posts were stored. Errors wrapping
// store.ErrStore are fatal for the cycle, anything else only fails the source.
func (s *Scheduler) fetchSource(ctx context.Context, src Source) (int, error) {
	body, err := s.fetcher.Fetch(ctx, src.Link)
	if err != nil {
		return 0, err
	}

	seq, err := source.Parse(src.Parser, src.ID, bytes.NewReader(body), s.logger)
	if err != nil {
		return 0, err
	}

	stored := 0
	for post := range seq {
		post = s.redactor.Post(post)
		if err := s.store.Upsert(ctx, post); err != nil {
			if errors.Is(err, store.ErrStore) {
				return stored, err
			}
			s.logger.Warn("skip post", "source", src.ID, "link", post.Link, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

// Run performs a single cycle when interval <= 0. Otherwise it repeats cycles
// separated by interval until ctx is cancelled, which is a clean shutdown.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		report, err := s.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.logger.Info("fetch cycle complete",
			"sources", report.Sources,
			"failed", report.Failed,
			"posts", report.Posts,
			"pruned", report.Pruned,
			"duration", report.Duration)
		if s.onCycle != nil {
			s.onCycle(report)
		}

		if interval <= 0 {
			return nil
		}
		if err := s.sleeper.Sleep(ctx, interval); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
