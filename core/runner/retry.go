// Package runner - bounded retry
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cloud-cost/internal/errors"
	"cloud-cost/internal/logging"
)

// DefaultMaxAttempts bounds the retry loop for retryable provider failures
const DefaultMaxAttempts = 3

// withRetry runs fn, retrying immediately on retryable provider errors up
// to maxAttempts times. One diagnostic is recorded per failed attempt; on
// exhaustion a single fatal error carries all of them. Non-retryable
// failures are returned as-is on the first occurrence.
func withRetry(ctx context.Context, op string, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var diagnostics []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}

		diagnostics = append(diagnostics, fmt.Sprintf("attempt %d: %v", attempt, err))
		logging.Warn("retryable provider failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
	}

	fatal := errors.ProviderAPI(
		fmt.Sprintf("%s failed after %d attempts", op, maxAttempts), false, nil)
	for _, entry := range diagnostics {
		fatal = fatal.WithDiagnostic(entry)
	}
	return fatal
}
