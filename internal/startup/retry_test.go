package startup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func fastConfig() RetryConfig {
	return RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"refused text", fmt.Errorf("get status: %w", errors.New("dial tcp 10.0.0.2:8989: connect: connection refused")), true},
		{"unauthorized", errors.New("unexpected status 401"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}

func TestWithRetry_RetriesNetworkErrors(t *testing.T) {
	logger := zerolog.Nop()
	calls := 0
	err := WithRetry(context.Background(), "ping", fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, &logger)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnOtherErrors(t *testing.T) {
	logger := zerolog.Nop()
	calls := 0
	err := WithRetry(context.Background(), "ping", fastConfig(), func() error {
		calls++
		return errors.New("unexpected status 401")
	}, &logger)

	assert.EqualError(t, err, "unexpected status 401")
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	logger := zerolog.Nop()
	calls := 0
	err := WithRetry(context.Background(), "ping", fastConfig(), func() error {
		calls++
		return errors.New("i/o timeout")
	}, &logger)

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
