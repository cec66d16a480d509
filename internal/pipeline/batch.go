package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/planetlabs/treeq/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type indexedResult struct {
	index  int
	result *Result
}

// Run converts the datasets concurrently and returns one result per dataset
// in the given order.  A failing dataset never stops the others.  Once the
// context is done no new datasets are started and the remaining ones are
// reported as failed.
func Run(ctx context.Context, cfg *config.Config, datasets []*config.Dataset, options *Options) []*Result {
	if options == nil {
		options = &Options{}
	}
	if options.RunID == "" {
		copied := *options
		copied.RunID = uuid.NewString()
		options = &copied
	}
	logger := options.logger().With(zap.String("run", options.RunID))

	limit := options.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	logger.Info("starting run", zap.Int("datasets", len(datasets)), zap.Int("concurrency", limit))

	collected := make(chan indexedResult, len(datasets))
	group := &errgroup.Group{}
	group.SetLimit(limit)

	for i, dataset := range datasets {
		if err := ctx.Err(); err != nil {
			collected <- indexedResult{index: i, result: canceled(dataset, err)}
			continue
		}
		group.Go(func() error {
			collected <- indexedResult{index: i, result: runOne(ctx, cfg, dataset, options, logger)}
			return nil
		})
	}
	_ = group.Wait()
	close(collected)

	results := make([]*Result, len(datasets))
	for item := range collected {
		results[item.index] = item.result
	}
	return results
}

// runOne isolates a dataset: configuration errors and panics end up on its
// result instead of the batch.
func runOne(ctx context.Context, cfg *config.Config, dataset *config.Dataset, options *Options, logger *zap.Logger) (result *Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dataset panicked", zap.String("dataset", dataset.Name), zap.Any("panic", r), zap.Stack("stack"))
			result = &Result{Name: dataset.Name}
			result.finish(fmt.Errorf("unexpected failure: %v", r), start)
		}
	}()

	if err := ctx.Err(); err != nil {
		return canceled(dataset, err)
	}

	mapping, err := cfg.Mapping(dataset)
	if err != nil {
		result = &Result{Name: dataset.Name}
		result.finish(err, start)
		logger.Error("invalid mapping", zap.String("dataset", dataset.Name), zap.Error(err))
		return result
	}

	scoped := *options
	scoped.Logger = logger
	return Convert(ctx, dataset, mapping, &scoped)
}

func canceled(dataset *config.Dataset, err error) *Result {
	result := &Result{Name: dataset.Name}
	result.finish(fmt.Errorf("not started: %w", err), time.Now())
	return result
}
