package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestAuthLimiter_LocksAfterThreshold(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewAuthLimiter(fc)

	for i := 0; i < DefaultMaxFailedAttempts-1; i++ {
		l.RecordFailure("10.0.0.1")
	}
	assert.False(t, l.IsLocked("10.0.0.1"))

	l.RecordFailure("10.0.0.1")
	assert.True(t, l.IsLocked("10.0.0.1"))
	assert.Equal(t, DefaultLockoutDuration, l.LockoutRemaining("10.0.0.1"))
	assert.False(t, l.IsLocked("10.0.0.2"))

	fc.Advance(DefaultLockoutDuration)
	assert.False(t, l.IsLocked("10.0.0.1"))
}

func TestAuthLimiter_EscalatesAndCaps(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewAuthLimiter(fc)

	lockOut := func() time.Duration {
		for i := 0; i < DefaultMaxFailedAttempts; i++ {
			l.RecordFailure("ip")
		}
		d := l.LockoutRemaining("ip")
		fc.Advance(d + time.Second)
		return d
	}

	assert.Equal(t, 15*time.Minute, lockOut())
	assert.Equal(t, 30*time.Minute, lockOut())
	assert.Equal(t, 45*time.Minute, lockOut())
	assert.Equal(t, time.Hour, lockOut())
	assert.Equal(t, time.Hour, lockOut())
}

func TestAuthLimiter_SuccessAndCleanup(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := NewAuthLimiter(fc)

	l.RecordFailure("a")
	l.RecordFailure("b")
	l.RecordSuccess("a")
	assert.Equal(t, 1, l.Len())

	l.Cleanup()
	assert.Equal(t, 1, l.Len())

	fc.Advance(2 * time.Hour)
	l.Cleanup()
	assert.Equal(t, 0, l.Len())
}
