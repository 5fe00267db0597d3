package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradescout/optionrun/internal/domain"
)

// limiter bounds one provider group: a semaphore caps concurrent in-flight
// requests and a token bucket caps the request rate.
type limiter struct {
	sem    chan struct{}
	bucket *rate.Limiter
}

func newLimiter(concurrency int, rps float64, burst int) *limiter {
	return &limiter{
		sem:    make(chan struct{}, concurrency),
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// acquire blocks until a slot and a token are available, or ctx is done.
func (l *limiter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.bucket.Wait(ctx); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *limiter) release() {
	<-l.sem
}

// Clock abstracts time for budget cooldown tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallBudget is the hard per-run call-count budget over data providers. On
// exhaustion callers block for the cooldown window, after which the counter
// resets. Safe for concurrent use across a run's task graph.
type CallBudget struct {
	mu       sync.Mutex
	used     int
	limit    int
	cooldown time.Duration
	clock    Clock

	coolingUntil time.Time
}

// NewCallBudget creates a budget of limit calls with the given cooldown.
func NewCallBudget(limit int, cooldown time.Duration, clock Clock) *CallBudget {
	if clock == nil {
		clock = RealClock{}
	}
	return &CallBudget{limit: limit, cooldown: cooldown, clock: clock}
}

// Acquire consumes one call, blocking through the cooldown window when the
// budget is exhausted. Returns ErrBudgetExhausted wrapped only when ctx
// expires while waiting.
func (b *CallBudget) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.clock.Now()
		if !b.coolingUntil.IsZero() && now.Before(b.coolingUntil) {
			wait := b.coolingUntil.Sub(now)
			b.mu.Unlock()
			if err := b.clock.Sleep(ctx, wait); err != nil {
				return domain.ErrBudgetExhausted
			}
			continue
		}
		if !b.coolingUntil.IsZero() {
			// Cooldown elapsed: reset the window.
			b.used = 0
			b.coolingUntil = time.Time{}
		}
		if b.used < b.limit {
			b.used++
			b.mu.Unlock()
			return nil
		}
		b.coolingUntil = now.Add(b.cooldown)
		b.mu.Unlock()
	}
}

// Used reports calls consumed in the current window.
func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
