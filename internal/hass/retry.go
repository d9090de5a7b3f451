package hass

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryConnect calls connect with exponential backoff until it succeeds or
// ctx is done. It reports whether a connection was made.
func retryConnect(ctx context.Context, connect func() error, backoff, maxBackoff time.Duration, logger *zap.Logger) bool {
	for {
		err := connect()
		if err == nil {
			return true
		}
		logger.Warn("Connect failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
