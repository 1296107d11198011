package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"carscout/internal/config"
	"carscout/internal/models"
	"carscout/internal/pipeline"
	"carscout/internal/validator"
)

// FilterRunner executes one full poll cycle for a filter.
type FilterRunner interface {
	RunFilter(ctx context.Context, f models.Filter) (pipeline.RunStats, error)
}

// Scheduler polls each active filter on a jittered cadence. At most one run
// per filter is in flight at a time, and a global semaphore bounds how many
// filters are processed concurrently across the process.
type Scheduler struct {
	runner  FilterRunner
	filters pipeline.FilterStore
	checker *validator.Validator
	cfg     config.PollConfig
	sem     *semaphore.Weighted

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// New builds a scheduler over the given runner and filter source.
func New(runner FilterRunner, filters pipeline.FilterStore, cfg config.PollConfig) *Scheduler {
	return &Scheduler{
		runner:  runner,
		filters: filters,
		checker: validator.New(),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		running: map[string]struct{}{},
	}
}

// Run drives poll cycles until the context is cancelled, then waits for
// in-flight filter runs to observe the cancellation and finish.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Scheduler starting", "interval", s.cfg.Interval, "maxConcurrent", s.cfg.MaxConcurrent)

	// First cycle immediately, then jittered cadence.
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-time.After(s.jitteredInterval()):
			s.cycle(ctx)
		}
	}
}

// cycle lists active filters and launches a run for each one that is valid
// and not already in flight.
func (s *Scheduler) cycle(ctx context.Context) {
	filters, err := s.filters.ListActiveFilters(ctx)
	if err != nil {
		slog.Error("Failed to list active filters", "error", err)
		return
	}

	for _, f := range filters {
		if err := s.checker.ValidateFilter(f); err != nil {
			slog.Warn("Skipping invalid filter", "filter", f.ID, "error", err)
			continue
		}
		s.launch(ctx, f)
	}
}

func (s *Scheduler) launch(ctx context.Context, f models.Filter) {
	s.mu.Lock()
	if _, inFlight := s.running[f.ID]; inFlight {
		s.mu.Unlock()
		slog.Debug("Filter run still in flight, skipping this cycle", "filter", f.ID)
		return
	}
	s.running[f.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, f.ID)
			s.mu.Unlock()
		}()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		stats, err := s.runner.RunFilter(ctx, f)
		if err != nil {
			slog.Error("Filter run failed", "filter", f.ID, "pagesFetched", stats.PagesFetched, "error", err)
		}

		// Bookkeeping happens whether the run succeeded or not, so a filter
		// that keeps failing still shows when it was last attempted.
		if err := s.filters.TouchFilterRun(context.WithoutCancel(ctx), f.ID, time.Now()); err != nil {
			slog.Warn("Failed to record filter run time", "filter", f.ID, "error", err)
		}
	}()
}

// jitteredInterval spreads cycles by up to ±Interval*JitterFrac so runs never
// hit the upstream on a fixed rhythm.
func (s *Scheduler) jitteredInterval() time.Duration {
	base := s.cfg.Interval
	if s.cfg.JitterFrac <= 0 {
		return base
	}
	span := float64(base) * s.cfg.JitterFrac
	offset := (rand.Float64()*2 - 1) * span
	return base + time.Duration(offset)
}
