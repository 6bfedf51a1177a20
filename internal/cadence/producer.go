// Package cadence queues scheduled runs for sources whose polling cadence has
// elapsed.
package cadence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/metrics"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// JobName identifies the processor in batch results and metrics.
const JobName = "enqueue_due_runs"

const defaultBatchSize = 100

// Store creates runs for due sources.
type Store interface {
	EnqueueDueRuns(ctx context.Context, now time.Time, limit int) (int, error)
}

// Producer is the processor that turns elapsed cadences into queued runs.
// It runs ahead of the run worker so new runs are claimed in the same tick.
type Producer struct {
	store     Store
	batchSize int
	logger    *zap.Logger
}

// New constructs a Producer that queues at most batchSize runs per tick.
func New(store Store, batchSize int, logger *zap.Logger) *Producer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{store: store, batchSize: batchSize, logger: logger}
}

// Name implements monitor.Processor.
func (p *Producer) Name() string { return JobName }

// ProcessDue implements monitor.Processor. Claimed and Succeeded both count
// the runs queued.
func (p *Producer) ProcessDue(ctx context.Context, now time.Time) monitor.BatchResult {
	res := monitor.BatchResult{Job: JobName}
	n, err := p.store.EnqueueDueRuns(ctx, now, p.batchSize)
	res.Claimed = n
	res.Succeeded = n
	metrics.ObserveRunsEnqueued(n)
	if err != nil {
		res.Err = fmt.Errorf("enqueue due runs: %w", err)
		return res
	}
	if n > 0 {
		p.logger.Debug("runs queued for due sources", zap.Int("count", n))
	}
	if n == p.batchSize {
		p.logger.Info("due-source batch full; remaining sources wait for the next tick",
			zap.Int("batch_size", p.batchSize),
		)
	}
	return res
}
