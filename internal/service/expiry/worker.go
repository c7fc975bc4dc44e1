// Package expiry переводит в FAILED оплату GATEWAY-заказов, брошенных на шаге оплаты.
package expiry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultInterval  = time.Minute
	defaultMaxAge    = 30 * time.Minute
	defaultBatchSize = 100
	maxBatchesPerRun = 50
)

// Expirer помечает просроченные ожидания оплаты; реализуется checkout.Service.
type Expirer interface {
	ExpireAbandonedPayments(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

// Option настраивает Worker.
type Option func(*Worker)

// WithInterval задает интервал между проходами.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithMaxAge задает возраст, после которого ожидание оплаты считается брошенным.
func WithMaxAge(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.maxAge = d
		}
	}
}

// WithBatchSize задает размер порции заказов за один вызов.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker периодически вызывает Expirer, пока тот возвращает полные порции.
type Worker struct {
	expirer   Expirer
	interval  time.Duration
	maxAge    time.Duration
	batchSize int
	logger    *log.Entry
}

// NewWorker создает воркер истечения оплаты.
func NewWorker(expirer Expirer, opts ...Option) *Worker {
	w := &Worker{
		expirer:   expirer,
		interval:  defaultInterval,
		maxAge:    defaultMaxAge,
		batchSize: defaultBatchSize,
		logger:    log.WithField("component", "payment-expiry-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run работает до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.expirer == nil {
		w.logger.Warn("payment expiry worker is disabled: expirer is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	expired, err := w.RunOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.WithError(err).Warn("payment expiry run failed")
	}
	if expired > 0 {
		w.logger.WithField("expired", expired).Info("abandoned payments expired")
	}
}

// RunOnce выполняет один проход и возвращает число истёкших заказов.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := w.expirer.ExpireAbandonedPayments(ctx, w.maxAge, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			break
		}
	}
	return total, nil
}
