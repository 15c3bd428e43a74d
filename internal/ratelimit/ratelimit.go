// Package ratelimit implements the sliding-window auth rate limiter used
// to slow brute-force connect attempts: N failures in a window locks the
// (scope, ip) pair out for a cooldown period. Loopback callers are exempt
// so local tooling and health checks are never throttled.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Scopes distinguish which auth surface is being attempted, so a flood on
// one doesn't lock out another.
const (
	ScopeDefault      = "default"
	ScopeSharedSecret = "shared-secret"
	ScopeDeviceToken  = "device-token"
)

const (
	defaultMaxAttempts = 10
	defaultWindow      = 60 * time.Second
	defaultLockout     = 5 * time.Minute
	maxTrackedKeys     = 8192
)

// CheckResult reports whether an attempt is currently allowed.
type CheckResult struct {
	Allowed      bool
	Remaining    int
	RetryAfterMs int64
}

type entry struct {
	attempts    []time.Time
	lockedUntil time.Time
}

// Limiter is a sliding-window rate limiter keyed by (scope, ip). Safe for
// concurrent use.
type Limiter struct {
	mu             sync.Mutex
	entries        map[string]*entry
	maxAttempts    int
	window         time.Duration
	lockout        time.Duration
	exemptLoopback bool
	now            func() time.Time
}

// New builds a Limiter with the given policy. maxAttempts <= 0 falls back
// to the default of 10 attempts per 60s window with a 5 minute lockout.
func New(maxAttempts int, window, lockout time.Duration, exemptLoopback bool) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if window <= 0 {
		window = defaultWindow
	}
	if lockout <= 0 {
		lockout = defaultLockout
	}
	return &Limiter{
		entries:        make(map[string]*entry),
		maxAttempts:    maxAttempts,
		window:         window,
		lockout:        lockout,
		exemptLoopback: exemptLoopback,
		now:            time.Now,
	}
}

func isLoopback(ip string) bool {
	ip = strings.TrimSpace(ip)
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

func key(ip, scope string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = ScopeDefault
	}
	return scope + ":" + ip
}

func (l *Limiter) slide(e *entry, now time.Time) {
	cutoff := now.Add(-l.window)
	kept := e.attempts[:0]
	for _, t := range e.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.attempts = kept
}

// Check reports whether a new attempt from ip/scope is currently allowed,
// without recording anything.
func (l *Limiter) Check(ip, scope string) CheckResult {
	if l.exemptLoopback && isLoopback(ip) {
		return CheckResult{Allowed: true, Remaining: l.maxAttempts}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key(ip, scope)]
	if !ok {
		return CheckResult{Allowed: true, Remaining: l.maxAttempts}
	}

	now := l.now()
	if !e.lockedUntil.IsZero() && now.Before(e.lockedUntil) {
		return CheckResult{Allowed: false, RetryAfterMs: e.lockedUntil.Sub(now).Milliseconds()}
	}
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		e.lockedUntil = time.Time{}
		e.attempts = nil
	}
	l.slide(e, now)
	remaining := l.maxAttempts - len(e.attempts)
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{Allowed: remaining > 0, Remaining: remaining}
}

// RecordFailure registers a failed auth attempt, locking out the
// (scope, ip) pair once maxAttempts is reached within the window.
func (l *Limiter) RecordFailure(ip, scope string) {
	if l.exemptLoopback && isLoopback(ip) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIfFullLocked()

	k := key(ip, scope)
	e, ok := l.entries[k]
	if !ok {
		e = &entry{}
		l.entries[k] = e
	}

	now := l.now()
	if !e.lockedUntil.IsZero() && now.Before(e.lockedUntil) {
		return
	}
	l.slide(e, now)
	e.attempts = append(e.attempts, now)
	if len(e.attempts) >= l.maxAttempts {
		e.lockedUntil = now.Add(l.lockout)
	}
}

// Reset clears any tracked attempts for (scope, ip), used after a
// successful auth.
func (l *Limiter) Reset(ip, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key(ip, scope))
}

// Size reports the number of tracked keys, for diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictIfFullLocked bounds memory the same way the teacher's webhook
// limiter does: prune expired entries, then fall back to an unordered
// eviction if still at the cap. Caller holds l.mu.
func (l *Limiter) evictIfFullLocked() {
	if len(l.entries) < maxTrackedKeys {
		return
	}
	now := l.now()
	for k, e := range l.entries {
		if e.lockedUntil.IsZero() && len(e.attempts) == 0 {
			delete(l.entries, k)
			continue
		}
		if !e.lockedUntil.IsZero() && now.After(e.lockedUntil) {
			delete(l.entries, k)
		}
	}
	for len(l.entries) >= maxTrackedKeys {
		for k := range l.entries {
			delete(l.entries, k)
			break
		}
	}
}
