package runner

import (
	"context"
	"testing"

	"cloud-cost/core/provider"
	"cloud-cost/internal/errors"
)

func retryableErr(msg string) error {
	return errors.ProviderAPI(msg, true, &provider.APICallError{StatusCode: 503, Message: msg})
}

// TestWithRetry tests the bounded retry loop
func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, "fetch", 3, func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("withRetry: %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("retryable failure retried until success", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, "fetch", 3, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return retryableErr("gateway flapping")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("withRetry: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhaustion is fatal with one diagnostic per attempt", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, "fetch compute costs", 3, func(ctx context.Context) error {
			calls++
			return retryableErr("still down")
		})
		if calls != 3 {
			t.Fatalf("calls = %d, want exactly 3", calls)
		}
		if err == nil {
			t.Fatal("expected fatal error on exhaustion")
		}
		if errors.IsRetryable(err) {
			t.Error("exhaustion error must not itself be retryable")
		}
		domainErr, ok := err.(*errors.Error)
		if !ok {
			t.Fatalf("error type = %T, want *errors.Error", err)
		}
		if len(domainErr.Diagnostics) != 3 {
			t.Errorf("diagnostics = %d, want 3", len(domainErr.Diagnostics))
		}
	})

	t.Run("non-retryable failure returns immediately", func(t *testing.T) {
		calls := 0
		fatal := errors.ProviderAPI("bad credentials", false, nil)
		err := withRetry(ctx, "fetch", 3, func(ctx context.Context) error {
			calls++
			return fatal
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if err != fatal {
			t.Errorf("error = %v, want the original failure", err)
		}
	})

	t.Run("validation failure is never retried", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, "fetch", 3, func(ctx context.Context) error {
			calls++
			return errors.Validation("bad date")
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if !errors.IsType(err, errors.TypeValidation) {
			t.Errorf("error = %v, want validation error", err)
		}
	})

	t.Run("zero max attempts falls back to the default", func(t *testing.T) {
		calls := 0
		_ = withRetry(ctx, "fetch", 0, func(ctx context.Context) error {
			calls++
			return retryableErr("down")
		})
		if calls != DefaultMaxAttempts {
			t.Errorf("calls = %d, want %d", calls, DefaultMaxAttempts)
		}
	})
}
