package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrypub/internal/client/challenge"

	"go.uber.org/zap"
)

// RetryConfig holds the backoff used while Connect keeps failing.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 = infinite
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0,
	}
}

func (c *RetryConfig) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.Multiplier)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// ConnectWithRetry calls Connect until an attempt is started. An unregistered
// key ends the loop at once since only registering it on the hub helps.
// Once connected, reconnects are left to the transport.
func (p *Publisher) ConnectWithRetry(ctx context.Context, cfg *RetryConfig) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := p.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, challenge.ErrNotRegistered) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		p.logger.Info("retrying hub connection", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = cfg.next(delay)
	}
}
