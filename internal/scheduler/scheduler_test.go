package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"carscout/internal/config"
	"carscout/internal/models"
	"carscout/internal/pipeline"
)

type fakeRunner struct {
	mu         sync.Mutex
	runs       []string
	inFlight   int
	maxSeen    int
	block      chan struct{} // when non-nil, runs park here until closed
	runStarted chan string
}

func (r *fakeRunner) RunFilter(ctx context.Context, f models.Filter) (pipeline.RunStats, error) {
	r.mu.Lock()
	r.runs = append(r.runs, f.ID)
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	r.mu.Unlock()

	if r.runStarted != nil {
		r.runStarted <- f.ID
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return pipeline.RunStats{}, nil
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type fakeFilterStore struct {
	mu      sync.Mutex
	filters []models.Filter
	touched []string
}

func (s *fakeFilterStore) ListActiveFilters(context.Context) ([]models.Filter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters, nil
}

func (s *fakeFilterStore) TouchFilterRun(_ context.Context, filterID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, filterID)
	return nil
}

func (s *fakeFilterStore) touchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.touched)
}

func validFilter(id string) models.Filter {
	return models.Filter{ID: id, OwnerID: 42, IsActive: true}
}

func testConfig() config.PollConfig {
	return config.PollConfig{
		Interval:      time.Hour, // cycles are driven manually in tests
		MaxPages:      1,
		RunTimeout:    time.Minute,
		MaxConcurrent: 2,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCycle_RunsEachActiveFilterOnce(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeFilterStore{filters: []models.Filter{validFilter("a"), validFilter("b")}}
	s := New(runner, store, testConfig())

	s.cycle(context.Background())
	s.wg.Wait()

	if got := runner.runCount(); got != 2 {
		t.Errorf("ran %d filters, want 2", got)
	}
	if got := store.touchCount(); got != 2 {
		t.Errorf("touched %d filters, want 2", got)
	}
}

func TestCycle_SkipsInvalidFilter(t *testing.T) {
	invalid := validFilter("bad")
	invalid.OwnerID = 0 // required field
	store := &fakeFilterStore{filters: []models.Filter{invalid, validFilter("good")}}
	runner := &fakeRunner{}
	s := New(runner, store, testConfig())

	s.cycle(context.Background())
	s.wg.Wait()

	if got := runner.runCount(); got != 1 {
		t.Fatalf("ran %d filters, want only the valid one", got)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.runs[0] != "good" {
		t.Errorf("ran %q, want good", runner.runs[0])
	}
}

func TestCycle_FilterNeverOverlapsItself(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), runStarted: make(chan string, 1)}
	store := &fakeFilterStore{filters: []models.Filter{validFilter("a")}}
	s := New(runner, store, testConfig())

	ctx := context.Background()
	s.cycle(ctx)
	<-runner.runStarted

	// Second cycle while the first run is still parked.
	s.cycle(ctx)
	close(runner.block)
	s.wg.Wait()

	if got := runner.runCount(); got != 1 {
		t.Errorf("filter ran %d times concurrently-overlapping cycles, want 1", got)
	}
}

func TestCycle_GlobalConcurrencyBound(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	store := &fakeFilterStore{filters: []models.Filter{
		validFilter("a"), validFilter("b"), validFilter("c"), validFilter("d"),
	}}
	s := New(runner, store, testConfig()) // MaxConcurrent = 2

	s.cycle(context.Background())
	waitFor(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.inFlight == 2
	})

	runner.mu.Lock()
	maxSeen := runner.maxSeen
	runner.mu.Unlock()
	if maxSeen > 2 {
		t.Errorf("observed %d concurrent runs, bound is 2", maxSeen)
	}

	close(runner.block)
	s.wg.Wait()
	if got := runner.runCount(); got != 4 {
		t.Errorf("ran %d filters total, want 4", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeFilterStore{filters: []models.Filter{validFilter("a")}}
	s := New(runner, store, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.runCount() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestJitteredInterval_StaysWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Minute
	cfg.JitterFrac = 0.2
	s := New(&fakeRunner{}, &fakeFilterStore{}, cfg)

	lo := 8 * time.Minute
	hi := 12 * time.Minute
	for i := 0; i < 100; i++ {
		got := s.jitteredInterval()
		if got < lo || got > hi {
			t.Fatalf("jittered interval %v outside [%v, %v]", got, lo, hi)
		}
	}
}
