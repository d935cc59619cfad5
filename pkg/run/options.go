// Package run drives jobs through their phases: it owns the chunk loop,
// the progress publishing, the worker that leases runnable jobs, and the
// maintenance schedules.
package run

import (
	"time"

	"go.uber.org/zap"

	"github.com/threadpass/pipeline/pkg/notify"
	"github.com/threadpass/pipeline/pkg/security"
)

// Config holds the orchestrator tunables. Chunk size, retry counts, and
// intervals are configuration, not contract; defaults are starting
// points, revisited under production load.
type Config struct {
	// ChunkSize is how many rows are processed per progress checkpoint.
	ChunkSize int

	// Retry governs chunk-level storage and connector retries.
	Retry RetryConfig

	// PollInterval is how often an idle worker looks for runnable jobs.
	PollInterval time.Duration

	// Concurrency is how many jobs one worker drives at once. Chunks
	// within a single job stay strictly sequential regardless.
	Concurrency int
}

func defaultConfig() Config {
	return Config{
		ChunkSize:    250,
		Retry:        DefaultRetryConfig(),
		PollInterval: 250 * time.Millisecond,
		Concurrency:  4,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// ChunkSize sets the rows-per-chunk tunable, clamped to sane bounds.
func ChunkSize(n int) Option {
	return func(o *Orchestrator) {
		o.cfg.ChunkSize = security.ClampChunkSize(n)
	}
}

// ChunkRetries sets how many attempts a chunk-level storage operation
// gets before the job fails.
func ChunkRetries(n int) Option {
	return func(o *Orchestrator) {
		o.cfg.Retry.MaxAttempts = security.ClampRetries(n)
	}
}

// StorageTimeout bounds each individual storage attempt.
func StorageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cfg.Retry.OpTimeout = d
		}
	}
}

// PollInterval sets how often an idle worker polls for runnable jobs.
func PollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cfg.PollInterval = d
		}
	}
}

// Concurrency sets how many jobs one worker drives at once.
func Concurrency(n int) Option {
	return func(o *Orchestrator) {
		o.cfg.Concurrency = security.ClampConcurrency(n)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier sets the best-effort revalidation notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}
