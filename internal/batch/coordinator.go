// Package batch fans a per-contact evaluation out over many contacts with a
// bounded number of evaluations in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/circle-kernel/internal/metrics"
)

// ErrPanic wraps a panic raised while evaluating one contact.
var ErrPanic = errors.New("batch item panicked")

// DefaultLimit is used when a caller passes a non-positive limit.
const DefaultLimit = 5

// Func evaluates one contact.
type Func[T any] func(ctx context.Context, contactID string) (T, error)

// Failure is one contact that could not be evaluated.
type Failure struct {
	ContactID string `json:"contact_id"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.ContactID, f.Err)
}

// Result of a batch run. Succeeded is in completion order, not input order.
type Result[T any] struct {
	Succeeded    []T       `json:"succeeded"`
	Failed       []Failure `json:"failed"`
	PeakInFlight int       `json:"peak_in_flight"`
}

// Coordinator runs bounded-concurrency batches.
type Coordinator[T any] struct {
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator with a default limit and per-item
// timeout. A zero timeout disables the per-item deadline.
func NewCoordinator[T any](limit int, timeout time.Duration, logger *zap.Logger) *Coordinator[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Coordinator[T]{limit: limit, timeout: timeout, logger: logger.Named("batch")}
}

// Run evaluates every id with at most limit evaluations in flight; a
// non-positive limit uses the coordinator default. A failing item is logged
// and reported in Result.Failed without affecting the others. When ctx is
// cancelled, in-flight items finish and items not yet started are reported
// as failed with the context error.
func (c *Coordinator[T]) Run(ctx context.Context, ids []string, limit int, fn Func[T]) Result[T] {
	if limit <= 0 {
		limit = c.limit
	}
	start := time.Now()
	sem := semaphore.NewWeighted(int64(limit))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		inFlight int
		res      = Result[T]{Succeeded: make([]T, 0, len(ids))}
	)

	fail := func(id string, err error) {
		res.Failed = append(res.Failed, Failure{ContactID: id, Err: err, Message: err.Error()})
		metrics.BatchItems.WithLabelValues("failed").Inc()
	}

	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			mu.Lock()
			for _, rest := range ids[i:] {
				fail(rest, err)
			}
			mu.Unlock()
			c.logger.Warn("Batch cancelled before completion",
				zap.Int("unstarted", len(ids)-i),
				zap.Error(err))
			break
		}

		mu.Lock()
		inFlight++
		if inFlight > res.PeakInFlight {
			res.PeakInFlight = inFlight
		}
		mu.Unlock()
		metrics.BatchInFlight.Inc()

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			itemCtx := ctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}
			v, err := call(itemCtx, id, fn)

			metrics.BatchInFlight.Dec()
			mu.Lock()
			defer mu.Unlock()
			inFlight--
			if err != nil {
				c.logger.Warn("Batch item failed",
					zap.String("contact_id", id),
					zap.Error(err))
				fail(id, err)
				return
			}
			res.Succeeded = append(res.Succeeded, v)
			metrics.BatchItems.WithLabelValues("succeeded").Inc()
		}(id)
	}
	wg.Wait()

	c.logger.Info("Batch complete",
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("limit", limit),
		zap.Int("peak_in_flight", res.PeakInFlight),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

// call runs fn and turns a panic into an ErrPanic failure.
func call[T any](ctx context.Context, id string, fn Func[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanic, id, r)
		}
	}()
	return fn(ctx, id)
}
