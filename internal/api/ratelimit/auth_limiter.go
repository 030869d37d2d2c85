// Package ratelimit locks out clients that repeatedly present a wrong API
// key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
	MaxLockoutDuration       = time.Hour
)

type lockout struct {
	failedAttempts int
	lockedUntil    time.Time
	lockoutCount   int
	lastFailure    time.Time
}

// AuthLimiter tracks failed attempts per client IP. Each lockout lasts
// longer than the previous one, up to MaxLockoutDuration.
type AuthLimiter struct {
	mu       sync.Mutex
	lockouts map[string]*lockout
	clock    clockwork.Clock

	maxFailedAttempts   int
	baseLockoutDuration time.Duration
}

// NewAuthLimiter creates a limiter with the default thresholds.
func NewAuthLimiter(clock clockwork.Clock) *AuthLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuthLimiter{
		lockouts:            make(map[string]*lockout),
		clock:               clock,
		maxFailedAttempts:   DefaultMaxFailedAttempts,
		baseLockoutDuration: DefaultLockoutDuration,
	}
}

// IsLocked reports whether ip is currently locked out.
func (l *AuthLimiter) IsLocked(ip string) bool {
	return l.LockoutRemaining(ip) > 0
}

// LockoutRemaining returns how long ip stays locked out.
func (l *AuthLimiter) LockoutRemaining(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, exists := l.lockouts[ip]
	if !exists {
		return 0
	}
	remaining := lo.lockedUntil.Sub(l.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordFailure counts a failed attempt and locks ip out once the threshold
// is reached.
func (l *AuthLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	lo, exists := l.lockouts[ip]
	if !exists {
		lo = &lockout{}
		l.lockouts[ip] = lo
	}

	if now.After(lo.lockedUntil) && lo.failedAttempts >= l.maxFailedAttempts {
		lo.failedAttempts = 0
	}

	lo.failedAttempts++
	lo.lastFailure = now

	if lo.failedAttempts >= l.maxFailedAttempts {
		lo.lockoutCount++
		duration := l.baseLockoutDuration * time.Duration(lo.lockoutCount)
		if duration > MaxLockoutDuration {
			duration = MaxLockoutDuration
		}
		lo.lockedUntil = now.Add(duration)
	}
}

// RecordSuccess forgets the failures of ip.
func (l *AuthLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.lockouts, ip)
}

// Cleanup drops entries that are neither locked nor recently failing.
func (l *AuthLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for ip, lo := range l.lockouts {
		if now.After(lo.lockedUntil) && now.Sub(lo.lastFailure) > MaxLockoutDuration {
			delete(l.lockouts, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (l *AuthLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lockouts)
}
