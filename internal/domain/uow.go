package domain

import (
	"context"
	"time"
)

const (
	defaultConflictRetries = 3
	conflictRetryBaseDelay = 10 * time.Millisecond
)

// WithinTxRetry выполняет fn в транзакции и повторяет её при конфликте версий
// с экспоненциальной задержкой. fn обязан перечитывать состояние на каждой попытке.
func WithinTxRetry(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context, repos Repositories) error) error {
	var err error
	for attempt := 0; attempt < defaultConflictRetries; attempt++ {
		err = uow.WithinTx(ctx, fn)
		if err == nil || !IsVersionConflict(err) {
			return err
		}
		if attempt == defaultConflictRetries-1 {
			break
		}

		timer := time.NewTimer(conflictRetryBaseDelay * time.Duration(1<<uint(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
