// Package ratelimit enforces per-provider request quotas.
//
// A Limiter tracks request timestamps in a trailing one-minute window and a
// counter for the current calendar day. Admission requires room in the
// per-minute quota, the burst sub-quota and the daily quota at the same time.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Window is the length of the sliding per-minute window.
const Window = time.Minute

// Unlimited is reported by Remaining for quotas that are not configured.
const Unlimited = -1

// ErrQuotaExhausted is returned by callers that refuse to wait for a slot.
var ErrQuotaExhausted = errors.New("quota exhausted")

// Quota configures a Limiter. Zero values disable the corresponding check.
type Quota struct {
	RequestsPerMinute int
	RequestsPerDay    int
	// BurstLimit caps the requests inside BurstWindow. It is a tighter
	// sub-quota of RequestsPerMinute.
	BurstLimit int
	// BurstWindow defaults to Window.
	BurstWindow time.Duration
}

// Remaining describes how much of a quota is left.
type Remaining struct {
	PerMinute int `json:"per_minute"`
	PerDay    int `json:"per_day"`
	// ResetAt is when the oldest tracked request leaves the window.
	ResetAt      time.Time `json:"reset_at"`
	DailyResetAt time.Time `json:"daily_reset_at"`
}

// Limiter is the quota state of one provider identity.
type Limiter struct {
	id    string
	quota Quota

	mu           sync.Mutex
	timestamps   []time.Time
	dailyCount   int
	dailyResetAt time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleep replaces the context-aware sleep used by AwaitSlot.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// NewLimiter creates a Limiter for the given provider identity.
func NewLimiter(id string, quota Quota, opts ...Option) *Limiter {
	if quota.BurstWindow <= 0 || quota.BurstWindow > Window {
		quota.BurstWindow = Window
	}
	l := &Limiter{
		id:    id,
		quota: quota,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the provider identity of this limiter.
func (l *Limiter) ID() string {
	return l.id
}

// Quota returns the configured quota.
func (l *Limiter) Quota() Quota {
	return l.quota
}

// TryAdmit records a request and returns true when every quota has room.
// A rejected request is not recorded.
func (l *Limiter) TryAdmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refresh(now)
	if l.blockedUntil(now) != nil {
		return false
	}

	l.timestamps = append(l.timestamps, now)
	l.dailyCount++
	return true
}

// AwaitSlot blocks until the quota that currently rejects requests frees a
// slot. It does not admit the caller; TryAdmit must be called again.
// Returns immediately when nothing is blocking.
func (l *Limiter) AwaitSlot(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	l.refresh(now)
	var wait time.Duration
	if until := l.blockedUntil(now); until != nil {
		wait = max(until.Sub(now), 0)
	}
	l.mu.Unlock()

	if err := l.sleep(ctx, wait); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.id, err)
	}
	return nil
}

// NextSlotIn returns how long until TryAdmit could succeed, or 0 when a
// slot is free now.
func (l *Limiter) NextSlotIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refresh(now)
	if until := l.blockedUntil(now); until != nil {
		return max(until.Sub(now), 0)
	}
	return 0
}

// Remaining reports the unused part of each quota.
func (l *Limiter) Remaining() Remaining {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refresh(now)

	perMinute := Unlimited
	if l.quota.RequestsPerMinute > 0 {
		perMinute = max(l.quota.RequestsPerMinute-len(l.timestamps), 0)
	}
	if l.quota.BurstLimit > 0 {
		burstLeft := max(l.quota.BurstLimit-l.countSince(now.Add(-l.quota.BurstWindow)), 0)
		if perMinute == Unlimited || burstLeft < perMinute {
			perMinute = burstLeft
		}
	}

	perDay := Unlimited
	if l.quota.RequestsPerDay > 0 {
		perDay = max(l.quota.RequestsPerDay-l.dailyCount, 0)
	}

	resetAt := now
	if len(l.timestamps) > 0 {
		resetAt = l.timestamps[0].Add(Window)
	}

	return Remaining{
		PerMinute:    perMinute,
		PerDay:       perDay,
		ResetAt:      resetAt,
		DailyResetAt: l.dailyResetAt,
	}
}

// refresh prunes the minute window and rolls the daily counter over.
// Must be called with l.mu held.
func (l *Limiter) refresh(now time.Time) {
	if l.dailyResetAt.IsZero() {
		l.dailyResetAt = nextMidnight(now)
	} else if now.After(l.dailyResetAt) {
		l.dailyCount = 0
		l.dailyResetAt = nextMidnight(now)
	}

	cutoff := now.Add(-Window)
	i := 0
	for ; i < len(l.timestamps); i++ {
		if l.timestamps[i].After(cutoff) {
			break
		}
	}
	l.timestamps = l.timestamps[i:]
}

// blockedUntil returns nil when a request may proceed now, otherwise the
// time at which the blocking quota frees a slot. Must be called with l.mu held.
func (l *Limiter) blockedUntil(now time.Time) *time.Time {
	if l.quota.RequestsPerDay > 0 && l.dailyCount >= l.quota.RequestsPerDay {
		t := l.dailyResetAt
		return &t
	}
	if l.quota.RequestsPerMinute > 0 && len(l.timestamps) >= l.quota.RequestsPerMinute {
		t := l.timestamps[0].Add(Window)
		return &t
	}
	if l.quota.BurstLimit > 0 {
		since := now.Add(-l.quota.BurstWindow)
		if l.countSince(since) >= l.quota.BurstLimit {
			t := l.oldestSince(since).Add(l.quota.BurstWindow)
			return &t
		}
	}
	return nil
}

func (l *Limiter) countSince(cutoff time.Time) int {
	n := 0
	for i := len(l.timestamps) - 1; i >= 0; i-- {
		if !l.timestamps[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

func (l *Limiter) oldestSince(cutoff time.Time) time.Time {
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			return ts
		}
	}
	return cutoff
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
