package gateway

import (
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/ratelimit"
)

// RateLimiter adapts internal/ratelimit.Limiter to the gateway's RPM-based
// config knob: rpm <= 0 disables rate limiting entirely (back-compat with
// deployments that never configured it). Each ip may make rpm requests per
// sliding minute; once that is reached it is locked out for 10 seconds.
type RateLimiter struct {
	limiter *ratelimit.Limiter
	enabled bool
}

// NewRateLimiter builds a RateLimiter from requests-per-minute. burst is
// accepted for config compatibility but has no effect on limiting.
func NewRateLimiter(rpm int, burst int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{enabled: false}
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		enabled: true,
		limiter: ratelimit.New(rpm, time.Minute, 10*time.Second, true),
	}
}

// Enabled reports whether rate limiting is active.
func (r *RateLimiter) Enabled() bool { return r.enabled }

// Allow reports whether a request from ip should proceed, recording the
// attempt against the per-minute window.
func (r *RateLimiter) Allow(ip string) bool {
	if !r.enabled {
		return true
	}
	res := r.limiter.Check(ip, ratelimit.ScopeDefault)
	if !res.Allowed {
		return false
	}
	r.limiter.RecordFailure(ip, ratelimit.ScopeDefault) // every call counts against the window, success or not
	return true
}
