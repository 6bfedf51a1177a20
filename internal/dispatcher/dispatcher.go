// Package dispatcher drives the registered job processors on a fixed tick.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/metrics"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// DefaultPollInterval is used when Config.PollInterval is unset.
const DefaultPollInterval = 5 * time.Second

// Config controls the scheduler loop.
type Config struct {
	PollInterval time.Duration
}

// Scheduler calls every processor once per tick with the same now.
type Scheduler struct {
	processors []monitor.Processor
	clock      monitor.Clock
	interval   time.Duration
	logger     *zap.Logger
}

// New creates a Scheduler.
func New(processors []monitor.Processor, clock monitor.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		processors: processors,
		clock:      clock,
		interval:   cfg.PollInterval,
		logger:     logger,
	}
}

// Tick runs each processor in order. A failing or panicking processor is
// logged and does not prevent the others from running.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []monitor.BatchResult {
	results := make([]monitor.BatchResult, 0, len(s.processors))
	for _, p := range s.processors {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		res := s.runOne(ctx, p, now)
		failed := res.Err != nil || res.Failed > 0
		metrics.ObserveTick(p.Name(), failed, time.Since(start))

		fields := []zap.Field{
			zap.String("job", p.Name()),
			zap.Int("claimed", res.Claimed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("retried", res.Retried),
			zap.Int("dead_lettered", res.DeadLettered),
			zap.Int("failed", res.Failed),
		}
		switch {
		case res.Err != nil:
			s.logger.Error("processor tick failed", append(fields, zap.Error(res.Err))...)
		case res.Claimed > 0:
			s.logger.Info("processor tick", fields...)
		default:
			s.logger.Debug("processor tick idle", fields...)
		}
		results = append(results, res)
	}
	return results
}

func (s *Scheduler) runOne(ctx context.Context, p monitor.Processor, now time.Time) (res monitor.BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = monitor.BatchResult{Job: p.Name(), Err: &PanicError{Job: p.Name(), Value: r}}
		}
	}()
	res = p.ProcessDue(ctx, now)
	if res.Job == "" {
		res.Job = p.Name()
	}
	return res
}

// Run ticks immediately and then on every poll interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.interval),
		zap.Int("processors", len(s.processors)),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx, s.clock.Now())
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
