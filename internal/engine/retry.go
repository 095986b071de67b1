package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// run executes op with the engine's deadline and retries it with exponential
// backoff while it fails transiently. The final error is mapped onto the
// engine's taxonomy; storage sentinels never escape.
func run[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error)) (T, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = 250 * time.Millisecond

	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := op(ctx)
		if err == nil || retryable(err) {
			return res, err
		}
		return res, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.maxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.DebugContext(ctx, "retrying storage operation",
				slog.String("error", err.Error()),
				slog.Duration("backoff", next),
			)
		}),
	)
	if err != nil {
		var zero T
		return zero, classify(err)
	}
	return res, nil
}

func retryable(err error) bool {
	return errors.Is(err, storage.ErrStale) ||
		errors.Is(err, storage.ErrTransient) ||
		errors.Is(err, storage.ErrUniqueViolation)
}

func classify(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStorageTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case retryable(err):
		// The store never settled within the retry budget.
		return fmt.Errorf("%w: retries exhausted: %v", ErrStorageTimeout, err)
	}
	return err
}
