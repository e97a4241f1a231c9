package ble

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// reconnectBase is the first wait between reopen attempts.
const reconnectBase = 100 * time.Millisecond

// ResetConnect opens port, resets the dongle, and reopens it once it is
// back. A BLED112 drops off USB during reset, so the first reopen attempts
// usually fail; they are retried with exponential backoff until
// ResetTimeout.
func (s *Session) ResetConnect(ctx context.Context, port string) error {
	if err := s.Connect(port); err != nil {
		return err
	}
	if err := s.SystemReset(false); err != nil {
		s.Disconnect()
		return fmt.Errorf("ble: reset: %w", err)
	}
	if err := s.Disconnect(); err != nil {
		s.log.WithError(err).Warn("close before reset reopen failed")
	}

	if err := sleepCtx(ctx, s.opts.ResetDelay); err != nil {
		return err
	}

	deadline := time.Now().Add(s.opts.ResetTimeout)
	for attempt := 0; ; attempt++ {
		err := s.Connect(port)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ble: reopen %s after reset: %w", port, err)
		}
		delay := backoffDelay(attempt, reconnectBase, s.opts.ReconnectMax)
		s.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Debug("dongle not back yet")
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// backoffDelay returns base * 2^attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

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
