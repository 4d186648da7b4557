package internal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMinSpacing is the minimum gap between any two sends.
	DefaultMinSpacing = time.Second
	// DefaultWindow is the length of the burst-budget window.
	DefaultWindow = 30 * time.Second
	// DefaultWindowBudget is the number of sends allowed per window. The
	// documented budget is roughly 30/min; this is deliberately more
	// conservative to tolerate burstiness without tripping server-side
	// abuse detection.
	DefaultWindowBudget = 15
)

// GateConfig controls how requests are throttled before reaching the API.
// Zero values select the defaults above.
type GateConfig struct {
	MinSpacing   time.Duration
	Window       time.Duration
	WindowBudget int
}

// Gate enforces the request budget for one upstream account. All attempts
// of every call acquire the gate, including retries and replays of deferred
// calls. Sessions that share an upstream budget must share one Gate
// instance; the rolling-window state is owned by the Gate, not by any
// session.
type Gate struct {
	spacing *rate.Limiter

	mu             sync.Mutex
	window         time.Duration
	budget         int
	windowStart    time.Time
	windowCount    int
	forceWaitUntil time.Time
}

// NewGate returns a Gate with the given configuration.
func NewGate(cfg GateConfig) *Gate {
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = DefaultMinSpacing
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.WindowBudget <= 0 {
		cfg.WindowBudget = DefaultWindowBudget
	}

	return &Gate{
		spacing: rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		window:  cfg.Window,
		budget:  cfg.WindowBudget,
	}
}

// Acquire blocks until it is safe to send. The spacing rule is evaluated
// first, then the burst budget; state updates happen only once the send is
// cleared to proceed. Cancellation aborts the wait and never bypasses the
// gate.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.waitForForcedDelay(ctx); err != nil {
		return err
	}

	if err := g.spacing.Wait(ctx); err != nil {
		return err
	}

	for {
		g.mu.Lock()
		now := time.Now()
		if g.windowStart.IsZero() || now.Sub(g.windowStart) >= g.window {
			g.windowStart = now
			g.windowCount = 0
		}
		if g.windowCount < g.budget {
			g.windowCount++
			g.mu.Unlock()
			return nil
		}
		wait := g.window - now.Sub(g.windowStart)
		g.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DeferFor pushes back all sends by the given duration. Used when the server
// demands a pause via Retry-After or rate-limit headers.
func (g *Gate) DeferFor(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	g.mu.Lock()
	if until.After(g.forceWaitUntil) {
		g.forceWaitUntil = until
	}
	g.mu.Unlock()
}

func (g *Gate) waitForForcedDelay(ctx context.Context) error {
	for {
		g.mu.Lock()
		waitUntil := g.forceWaitUntil
		g.mu.Unlock()

		if waitUntil.IsZero() {
			return nil
		}

		now := time.Now()
		if !now.Before(waitUntil) {
			g.clearForcedDelay(waitUntil)
			return nil
		}

		timer := time.NewTimer(waitUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			g.clearForcedDelay(waitUntil)
		}
	}
}

func (g *Gate) clearForcedDelay(previous time.Time) {
	g.mu.Lock()
	if previous.Equal(g.forceWaitUntil) {
		g.forceWaitUntil = time.Time{}
	}
	g.mu.Unlock()
}
