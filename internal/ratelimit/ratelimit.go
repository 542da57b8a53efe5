package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/delver/config"
)

const window = time.Minute

// Limiter enforces a fixed per-minute request window, optionally capped by a
// number of in-flight requests. A caller that lands on a full window blocks
// for the cooldown period and tries again, so Wait returns only with a granted
// slot or a dead context.
type Limiter struct {
	rpm      int
	cooldown time.Duration
	sem      chan struct{}

	mu          sync.Mutex
	windowStart time.Time
	count       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a limiter from one rate window config. A zero ConcurrentRequests
// means no in-flight cap.
func New(cfg config.RateWindowConfig) *Limiter {
	l := &Limiter{
		rpm:      cfg.RequestsPerMinute,
		cooldown: cfg.Cooldown,
		now:      time.Now,
		sleep:    sleepContext,
	}
	if cfg.ConcurrentRequests > 0 {
		l.sem = make(chan struct{}, cfg.ConcurrentRequests)
	}
	return l
}

// Wait blocks until the caller owns both an in-flight slot and a window slot.
// Callers must Release once the guarded call finishes.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if l.takeWindowSlot() {
			return nil
		}
		if err := l.sleep(ctx, l.cooldown); err != nil {
			l.Release()
			return err
		}
	}
}

// TryAcquire grabs a window slot without blocking. It ignores the in-flight
// cap, so it suits probes and tests rather than guarded calls.
func (l *Limiter) TryAcquire() bool {
	return l.takeWindowSlot()
}

// Release returns the in-flight slot taken by Wait.
func (l *Limiter) Release() {
	if l.sem == nil {
		return
	}
	select {
	case <-l.sem:
	default:
	}
}

func (l *Limiter) takeWindowSlot() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= window {
		l.windowStart = now
		l.count = 0
	}
	if l.rpm > 0 && l.count >= l.rpm {
		return false
	}
	l.count++
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
