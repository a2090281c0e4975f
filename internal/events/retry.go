package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Backoff bounds the wait between reconnect attempts. The wait doubles after
// each failure up to Max and starts again from Min once an attempt has stayed
// connected for at least Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

var DefaultBackoff = Backoff{Min: time.Second, Max: 30 * time.Second}

// KeepSubscribed runs subscribe until ctx is done, reconnecting after every
// return. The returned count is the number of attempts made.
func KeepSubscribed(ctx context.Context, logger *zap.Logger, backoff Backoff, subscribe func(context.Context) error) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff.Min <= 0 {
		backoff.Min = DefaultBackoff.Min
	}
	if backoff.Max < backoff.Min {
		backoff.Max = backoff.Min
	}

	attempts := 0
	wait := backoff.Min
	for ctx.Err() == nil {
		attempts++
		started := time.Now()
		err := subscribe(ctx)
		if ctx.Err() != nil {
			return attempts
		}
		if time.Since(started) >= backoff.Max {
			wait = backoff.Min
		}
		logger.Warn("subscription ended, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts
		case <-timer.C:
		}
		wait *= 2
		if wait > backoff.Max {
			wait = backoff.Max
		}
	}
	return attempts
}
