package run

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/notify"
	"github.com/threadpass/pipeline/pkg/ownership"
	"github.com/threadpass/pipeline/pkg/progress"
	"github.com/threadpass/pipeline/pkg/rowproc"
	"github.com/threadpass/pipeline/pkg/security"
	"github.com/threadpass/pipeline/pkg/source"
)

// Orchestrator creates jobs and drives them through their phases. It is
// the single writer of job records; everything else reads.
type Orchestrator struct {
	jobs     core.JobStore
	catalog  catalog.Catalog
	owners   *ownership.Reconciler
	proc     *rowproc.Processor
	hub      *progress.Hub
	notifier notify.Notifier
	logger   *zap.Logger
	cfg      Config

	// Sources and sinks are process-lifetime: connectors re-register
	// after a restart, and a job whose connector is gone fails with a
	// structured reason instead of hanging.
	mu      sync.Mutex
	sources map[string]source.RowSource
	sinks   map[string]source.RowSink
}

// NewOrchestrator wires an orchestrator over its collaborators.
func NewOrchestrator(jobs core.JobStore, cat catalog.Catalog, owners *ownership.Reconciler, hub *progress.Hub, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:     jobs,
		catalog:  cat,
		owners:   owners,
		proc:     rowproc.New(cat, owners),
		hub:      hub,
		notifier: notify.Nop{},
		logger:   zap.NewNop(),
		cfg:      defaultConfig(),
		sources:  make(map[string]source.RowSource),
		sinks:    make(map[string]source.RowSink),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitRequest describes one bulk job.
type SubmitRequest struct {
	BrandID      string
	Kind         core.JobKind
	ActingSource core.Source

	// SourceRef names where the rows come from, for display.
	SourceRef string

	// Rows supplies the input sequence for import jobs.
	Rows source.RowSource

	// Sink receives the output rows of export jobs.
	Sink source.RowSink

	// NewPrimary is the integration becoming authoritative, for
	// promotion jobs.
	NewPrimary core.Source
}

// Submit creates a pending job and returns immediately; a worker picks
// it up asynchronously. Structural problems (no source, empty source,
// bad identities) fail here, before any job record exists.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*core.Job, error) {
	if err := security.ValidateBrandID(req.BrandID); err != nil {
		return nil, err
	}

	job := &core.Job{
		BrandID:      req.BrandID,
		Kind:         req.Kind,
		Status:       core.StatusPending,
		ActingSource: req.ActingSource,
		SourceRef:    req.SourceRef,
	}

	switch req.Kind {
	case core.KindImport:
		if err := security.ValidateSource(req.ActingSource); err != nil {
			return nil, err
		}
		if req.Rows == nil {
			return nil, core.ErrInvalidInput
		}
		if req.Rows.Total() == 0 {
			return nil, core.ErrEmptySource
		}
		job.Total = req.Rows.Total()
	case core.KindExport:
		if err := security.ValidateSource(req.ActingSource); err != nil {
			return nil, err
		}
		if req.Sink == nil {
			return nil, core.ErrInvalidInput
		}
	case core.KindPromotion:
		if err := security.ValidateSource(req.NewPrimary); err != nil {
			return nil, err
		}
		if _, ok := req.NewPrimary.Integration(); !ok {
			return nil, core.ErrInvalidSource
		}
		job.ActingSource = req.NewPrimary
		job.SourceRef = string(req.NewPrimary)
	default:
		return nil, core.ErrInvalidInput
	}

	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if req.Rows != nil {
		o.sources[job.ID] = req.Rows
	}
	if req.Sink != nil {
		o.sinks[job.ID] = req.Sink
	}
	o.mu.Unlock()

	o.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("brand_id", job.BrandID),
		zap.String("kind", string(job.Kind)),
	)
	return job, nil
}

// Status returns a brand's job with its failure list.
func (o *Orchestrator) Status(ctx context.Context, brandID, jobID string) (*core.Job, []core.RowFailure, error) {
	job, err := o.jobs.GetJob(ctx, brandID, jobID)
	if err != nil {
		return nil, nil, err
	}
	failures, err := o.jobs.ListFailures(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, failures, nil
}

// ListJobs returns a brand's job history, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, brandID string, limit int) ([]*core.Job, error) {
	return o.jobs.ListJobs(ctx, brandID, limit)
}

// Approve releases a validated import for committing. The brand reviews
// the validation failure list first; commit re-checks every row anyway,
// because catalog data may have moved since validation.
func (o *Orchestrator) Approve(ctx context.Context, brandID, jobID string) error {
	if err := o.jobs.Approve(ctx, brandID, jobID); err != nil {
		return err
	}
	o.logger.Info("job approved", zap.String("job_id", jobID), zap.String("brand_id", brandID))
	return nil
}

// Cancel raises the cooperative cancellation flag. A chunk in flight
// completes; the job emits a terminal cancelled status afterwards. Jobs
// no worker is driving (pending, or validated awaiting approval) turn
// terminal here, since no chunk loop will ever observe the flag.
func (o *Orchestrator) Cancel(ctx context.Context, brandID, jobID string) error {
	job, err := o.jobs.RequestCancel(ctx, brandID, jobID)
	if err != nil {
		return err
	}
	if job.Status == core.StatusCancelled {
		o.publish(job)
		o.release(job.ID)
	}
	o.logger.Info("job cancellation requested", zap.String("job_id", jobID), zap.String("brand_id", brandID))
	return nil
}

// ListConflicts returns the brand's unresolved field-ownership conflicts.
func (o *Orchestrator) ListConflicts(ctx context.Context, brandID string) ([]core.FieldOwnership, error) {
	return o.owners.ListConflicts(ctx, brandID)
}

// ResolveConflict applies an explicit ownership resolution.
func (o *Orchestrator) ResolveConflict(ctx context.Context, brandID, entityType, entityID, field string, chosen core.Source) error {
	if err := security.ValidateSource(chosen); err != nil {
		return err
	}
	return o.owners.ResolveConflict(ctx, brandID, entityType, entityID, field, chosen)
}

// Hub exposes the progress channel for observers.
func (o *Orchestrator) Hub() *progress.Hub { return o.hub }

func (o *Orchestrator) rowSource(jobID string) source.RowSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[jobID]
}

func (o *Orchestrator) rowSink(jobID string) source.RowSink {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sinks[jobID]
}

// release drops the connector registrations of a finished job.
func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.sources, jobID)
	delete(o.sinks, jobID)
	o.mu.Unlock()
}

// publish pushes the job's current snapshot to attached observers.
func (o *Orchestrator) publish(job *core.Job) {
	o.hub.Publish(job.ID, core.Snapshot(job))
}
