package core

import (
	"context"
	"time"
)

// JobStore is the durable record of job identity, phase, counters, and
// terminal outcome. It is single-writer per job: only the worker holding
// the lease mutates a job, while any brand-scoped actor may read it.
type JobStore interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, brandID, jobID string) (*Job, error)
	ListJobs(ctx context.Context, brandID string, limit int) ([]*Job, error)

	// NextRunnable leases the next job a worker should drive: pending
	// jobs, approved (committing) jobs, and leases that went stale.
	// Returns nil when nothing is runnable.
	NextRunnable(ctx context.Context, workerID string) (*Job, error)

	// SetStatus transitions a leased job, enforcing the status machine.
	SetStatus(ctx context.Context, jobID, workerID string, status JobStatus, message string) error

	// SaveProgress persists counters and the chunk checkpoint of a
	// leased job, and extends the lease. Returns the refreshed job so
	// the caller observes a concurrently set cancellation flag.
	SaveProgress(ctx context.Context, job *Job, workerID string) (*Job, error)

	// Finish moves a leased job to a terminal status and releases the
	// lease. errorKind is empty unless status is failed.
	Finish(ctx context.Context, jobID, workerID string, status JobStatus, message, errorKind string) error

	// Approve moves a brand's validated job to committing and resets
	// phase counters, making it runnable again. Import jobs only reach
	// committing through here; export and promotion self-approve.
	Approve(ctx context.Context, brandID, jobID string) error

	// RequestCancel raises the cooperative cancellation flag. Pending
	// jobs are cancelled immediately; running jobs honor the flag at
	// the next chunk boundary.
	RequestCancel(ctx context.Context, brandID, jobID string) (*Job, error)

	// ResetPhase clears counters, checkpoint, and failure list at the
	// start of a phase, setting total.
	ResetPhase(ctx context.Context, jobID, workerID string, total int) error

	// Row failures
	AppendFailures(ctx context.Context, failures []RowFailure) error
	ListFailures(ctx context.Context, jobID string) ([]RowFailure, error)

	// Maintenance
	ReleaseStaleLeases(ctx context.Context, staleFor time.Duration) (int64, error)
	ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OwnershipStore persists field-ownership records. Claim serialization
// happens above it in the reconciler; the store supplies version
// compare-and-swap so two processes cannot both win the same claim.
type OwnershipStore interface {
	Migrate(ctx context.Context) error

	Get(ctx context.Context, brandID, entityType, entityID, field string) (*FieldOwnership, error)

	// Create inserts a first-writer ownership record. Fails if a record
	// already exists for the field.
	Create(ctx context.Context, rec *FieldOwnership) error

	// Update persists rec if its Version still matches expectedVersion,
	// bumping the version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, rec *FieldOwnership, expectedVersion int64) error

	ListConflicts(ctx context.Context, brandID string) ([]FieldOwnership, error)

	// ListByEntity returns all ownership records for one entity.
	ListByEntity(ctx context.Context, brandID, entityType, entityID string) ([]FieldOwnership, error)

	// DeleteByEntity removes ownership records when the owning entity
	// itself is deleted.
	DeleteByEntity(ctx context.Context, brandID, entityType, entityID string) error
}
