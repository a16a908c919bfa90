package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome for one product of a batch. Exactly one of
// Result and Err is set.
type BatchItem struct {
	ProductID string
	Result    *Result
	Err       error
}

// AssessBatch assesses products concurrently, at most concurrency at a
// time. A failed product does not abort the batch. Items come back in input
// order.
func (a *Assessor) AssessBatch(ctx context.Context, productIDs []string, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = 1
	}
	items := make([]BatchItem, len(productIDs))

	zap.L().Info("pipeline: assessing batch",
		zap.Int("products", len(productIDs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	for i, id := range productIDs {
		g.Go(func() error {
			res, err := a.AssessProduct(gctx, id)
			items[i] = BatchItem{ProductID: id, Result: res, Err: err}
			if err != nil {
				failed.Add(1)
				zap.L().Warn("pipeline: assessment failed", zap.String("product_id", id), zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("pipeline: batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return items
}
