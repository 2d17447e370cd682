// Package retry runs infrastructure calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/logging"
)

// Policy bounds the attempts made by Do.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected reports errors that are returned without being logged,
	// such as a cache miss.
	Expected func(error) bool
}

// DefaultPolicy makes three attempts starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
}

// Do calls fn until it succeeds, fails with a non-transient error or the
// attempts run out. Failures come back as *logging.OperationError. backend
// names the dependency in log lines, e.g. "redis" or "database".
func Do(ctx context.Context, p Policy, logger *zap.Logger, backend, operation, requestID string, fn func() error) error {
	attempts := max(p.Attempts, 1)
	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info(backend+" operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == attempts-1 {
			if p.Expected == nil || !p.Expected(err) {
				opLogger.Error(backend+" operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient "+backend+" error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransient reports timeouts and errors that declare themselves temporary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
