package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWindow is the sliding window length
	DefaultWindow = 60 * time.Second
	// DefaultBuffer is added to each computed sleep
	DefaultBuffer = 100 * time.Millisecond
)

// Config holds the per-minute ceilings. A zero ceiling disables that dimension.
type Config struct {
	RequestsPerMinute         int
	TokensPerMinute           int
	EstimatedTokensPerRequest int
	Window                    time.Duration
	Buffer                    time.Duration
}

// Usage is a point-in-time view of window utilization
type Usage struct {
	CurrentRPM   int
	MaxRPM       int
	RemainingRPM int
	CurrentTPM   int
	MaxTPM       int
	RemainingTPM int
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

// Limiter is a sliding-window RPM/TPM limiter safe for concurrent use.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(time.Duration)
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the time source and sleep function
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithWaitObserver is called with the total time spent blocked in each Wait
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// New creates a limiter
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.EstimatedTokensPerRequest < 0 {
		cfg.EstimatedTokensPerRequest = 0
	}
	l := &Limiter{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until one request of the configured estimated size fits in both budgets,
// then records the reservation.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitTokens(ctx, l.cfg.EstimatedTokensPerRequest)
}

// WaitTokens is Wait with an explicit token estimate.
// Estimates above the TPM ceiling are clamped to it so the request can run in an empty window.
func (l *Limiter) WaitTokens(ctx context.Context, tokens int) error {
	if tokens < 0 {
		tokens = 0
	}
	if l.cfg.TokensPerMinute > 0 && tokens > l.cfg.TokensPerMinute {
		tokens = l.cfg.TokensPerMinute
	}

	start := l.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		delay := l.delayFor(now, tokens)
		if delay <= 0 {
			l.requests = append(l.requests, now)
			l.tokens = append(l.tokens, tokenEntry{at: now, tokens: tokens})
			l.mu.Unlock()
			if l.onWait != nil {
				l.onWait(now.Sub(start))
			}
			return nil
		}
		l.mu.Unlock()

		// Capacity may be taken by another caller while we sleep, so loop and re-check.
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// RecordUsage replaces the token count of the most recent reservation with the actual count
func (l *Limiter) RecordUsage(actual int) {
	if actual < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.tokens); n > 0 {
		l.tokens[n-1].tokens = actual
	}
}

// CurrentUsage prunes expired entries and returns a snapshot
func (l *Limiter) CurrentUsage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	used := l.tokenSum()

	u := Usage{
		CurrentRPM: len(l.requests),
		MaxRPM:     l.cfg.RequestsPerMinute,
		CurrentTPM: used,
		MaxTPM:     l.cfg.TokensPerMinute,
	}
	u.RemainingRPM = max(0, u.MaxRPM-u.CurrentRPM)
	u.RemainingTPM = max(0, u.MaxTPM-u.CurrentTPM)
	return u
}

// prune drops entries at least one window old. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)

	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.tokens) && !l.tokens[j].at.After(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

func (l *Limiter) tokenSum() int {
	total := 0
	for _, e := range l.tokens {
		total += e.tokens
	}
	return total
}

// delayFor returns how long to sleep before re-checking, or 0 if the request fits. Caller holds mu.
func (l *Limiter) delayFor(now time.Time, tokens int) time.Duration {
	var delay time.Duration

	if limit := l.cfg.RequestsPerMinute; limit > 0 && len(l.requests) >= limit {
		// The oldest request frees a slot when it leaves the window
		oldest := l.requests[len(l.requests)-limit]
		delay = oldest.Add(l.cfg.Window).Sub(now) + l.cfg.Buffer
	}

	if limit := l.cfg.TokensPerMinute; limit > 0 {
		excess := l.tokenSum() + tokens - limit
		if excess > 0 {
			freed := 0
			for _, e := range l.tokens {
				freed += e.tokens
				if freed >= excess {
					if d := e.at.Add(l.cfg.Window).Sub(now) + l.cfg.Buffer; d > delay {
						delay = d
					}
					break
				}
			}
		}
	}

	if delay < 0 {
		delay = l.cfg.Buffer
	}
	return delay
}

// sleepCtx sleeps for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
