package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimits serializes request pacing per upstream host. All fetcher
// invocations share one instance so the limit is globally meaningful.
type hostLimits struct {
	minInterval time.Duration
	cooldown    time.Duration

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	coolUntil map[string]time.Time
}

func newHostLimits(minInterval, cooldown time.Duration) *hostLimits {
	return &hostLimits{
		minInterval: minInterval,
		cooldown:    cooldown,
		limiters:    make(map[string]*rate.Limiter),
		coolUntil:   make(map[string]time.Time),
	}
}

func (h *hostLimits) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.minInterval), 1)
		h.limiters[host] = lim
	}
	return lim
}

// wait blocks until the host is out of any 429 cool-down window and a rate
// token is available, or the context is done.
func (h *hostLimits) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	until := h.coolUntil[host]
	h.mu.Unlock()

	if remaining := time.Until(until); remaining > 0 {
		slog.Info("Host in rate-limit cool-down, waiting", "host", host, "remaining", remaining.Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(remaining):
		}
	}

	return h.limiter(host).Wait(ctx)
}

// startCooldown arms the cool-down window for a host that returned 429.
// Extending an already-armed window is harmless.
func (h *hostLimits) startCooldown(host string) {
	h.mu.Lock()
	h.coolUntil[host] = time.Now().Add(h.cooldown)
	h.mu.Unlock()
	slog.Warn("Upstream rate limit hit, cooling down host", "host", host, "window", h.cooldown)
}
