package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Worker polls the job store for runnable jobs and drives them. Each
// leased job is driven by exactly one goroutine; Concurrency bounds how
// many jobs one worker handles at a time.
type Worker struct {
	orch *Orchestrator
	id   string
}

// NewWorker creates a worker with a unique identity for lease ownership.
func NewWorker(o *Orchestrator) *Worker {
	return &Worker{orch: o, id: uuid.NewString()}
}

// ID returns the worker's lease identity.
func (w *Worker) ID() string { return w.id }

// Start runs the poll loop until the context is cancelled. It blocks;
// callers run it in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	log := w.orch.logger.With(zap.String("worker_id", w.id))
	log.Info("worker starting",
		zap.Int("concurrency", w.orch.cfg.Concurrency),
		zap.Duration("poll_interval", w.orch.cfg.PollInterval),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.orch.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pollLoop(ctx, log)
		}()
	}
	wg.Wait()
	log.Info("worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.orch.jobs.NextRunnable(ctx, w.id)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("dequeue failed", zap.Error(err))
			}
			w.sleep(ctx, w.orch.cfg.PollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.orch.cfg.PollInterval)
			continue
		}

		w.orch.Advance(ctx, job, w.id)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
