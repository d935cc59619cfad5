// Package storage provides the GORM-backed implementations of the
// pipeline's job and ownership stores. SQLite backs the test suite;
// production runs the same code against PostgreSQL.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/security"
)

// leaseDuration is how long a worker owns a job between progress saves.
const leaseDuration = 5 * time.Minute

// Store implements core.JobStore and core.OwnershipStore using GORM.
type Store struct {
	db *gorm.DB
}

// New creates a GORM-backed store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers sharing the connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the job and ownership tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{}, &core.RowFailure{}, &core.FieldOwnership{},
	)
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a brand's job. A job belonging to a different brand is
// indistinguishable from a missing one.
func (s *Store) GetJob(ctx context.Context, brandID, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("id = ? AND brand_id = ?", jobID, brandID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns a brand's jobs, newest first, archived included so
// history stays queryable.
func (s *Store) ListJobs(ctx context.Context, brandID string, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("brand_id = ?", brandID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// NextRunnable leases the next job a worker should drive: freshly
// submitted jobs, approved jobs, and phases whose lease expired with the
// previous worker.
func (s *Store) NextRunnable(ctx context.Context, workerID string) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(leaseDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("archived_at IS NULL").
			Where("status IN ?", []core.JobStatus{
				core.StatusPending, core.StatusValidating, core.StatusCommitting,
			}).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			First(&job)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		return tx.Save(&job).Error
	})

	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// SetStatus transitions a leased job, enforcing the status machine.
func (s *Store) SetStatus(ctx context.Context, jobID, workerID string, status core.JobStatus, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}
		if job.LockedBy != workerID {
			return core.ErrJobNotOwned
		}
		if !core.CanTransition(job.Status, status) {
			return core.ErrInvalidTransition
		}
		return tx.Model(&core.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"status":  status,
				"message": security.SanitizeErrorMessage(message),
			}).Error
	})
}

// SaveProgress persists counters and checkpoint and extends the lease.
// The refreshed record is returned so the worker observes a cancellation
// flag raised since the last chunk.
func (s *Store) SaveProgress(ctx context.Context, job *core.Job, workerID string) (*core.Job, error) {
	lockUntil := time.Now().Add(leaseDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", job.ID, workerID).
		Updates(map[string]any{
			"total":        job.Total,
			"processed":    job.Processed,
			"created":      job.Created,
			"updated":      job.Updated,
			"skipped":      job.Skipped,
			"failed":       job.Failed,
			"checkpoint":   job.Checkpoint,
			"message":      job.Message,
			"locked_until": lockUntil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, core.ErrJobNotOwned
	}

	var fresh core.Job
	if err := s.db.WithContext(ctx).First(&fresh, "id = ?", job.ID).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Finish moves a leased job to validated or a terminal status and
// releases the lease.
func (s *Store) Finish(ctx context.Context, jobID, workerID string, status core.JobStatus, message, errorKind string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}
		if job.LockedBy != workerID {
			return core.ErrJobNotOwned
		}
		if !core.CanTransition(job.Status, status) {
			return core.ErrInvalidTransition
		}

		updates := map[string]any{
			"status":       status,
			"message":      security.SanitizeErrorMessage(message),
			"error_kind":   errorKind,
			"locked_by":    "",
			"locked_until": nil,
		}
		if core.TerminalStatus(status) {
			now := time.Now()
			updates["completed_at"] = now
		}
		return tx.Model(&core.Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// Approve moves a brand's validated job to committing, making it runnable
// again. Only import jobs pass through here; export and promotion
// self-approve inside the worker.
func (s *Store) Approve(ctx context.Context, brandID, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		err := tx.Where("id = ? AND brand_id = ?", jobID, brandID).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		if job.Status != core.StatusValidated {
			return core.ErrInvalidTransition
		}
		return tx.Model(&core.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"status":       core.StatusCommitting,
				"checkpoint":   0,
				"locked_by":    "",
				"locked_until": nil,
			}).Error
	})
}

// RequestCancel raises the cooperative cancellation flag on a brand's
// non-terminal job. A job no worker holds and no worker will pick up on
// its own (pending before any lease, or parked in validated awaiting
// approval) is cancelled outright; the caller sees the terminal status
// on the returned record and publishes the final event.
func (s *Store) RequestCancel(ctx context.Context, brandID, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND brand_id = ?", jobID, brandID).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		if job.Terminal() {
			return core.ErrJobTerminal
		}
		job.CancelRequested = true

		now := time.Now()
		unleased := job.LockedUntil == nil || job.LockedUntil.Before(now)
		if unleased && (job.Status == core.StatusPending || job.Status == core.StatusValidated) {
			job.Status = core.StatusCancelled
			job.Message = "cancelled by request"
			job.CompletedAt = &now
			job.LockedBy = ""
			job.LockedUntil = nil
			return tx.Model(&core.Job{}).
				Where("id = ?", jobID).
				Updates(map[string]any{
					"cancel_requested": true,
					"status":           core.StatusCancelled,
					"message":          job.Message,
					"completed_at":     now,
					"locked_by":        "",
					"locked_until":     nil,
				}).Error
		}
		return tx.Model(&core.Job{}).
			Where("id = ?", jobID).
			Update("cancel_requested", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ResetPhase clears counters, checkpoint, and the failure list at the
// start of a phase.
func (s *Store) ResetPhase(ctx context.Context, jobID, workerID string, total int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.Job{}).
			Where("id = ? AND locked_by = ?", jobID, workerID).
			Updates(map[string]any{
				"total":      total,
				"processed":  0,
				"created":    0,
				"updated":    0,
				"skipped":    0,
				"failed":     0,
				"checkpoint": 0,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrJobNotOwned
		}
		return tx.Where("job_id = ?", jobID).Delete(&core.RowFailure{}).Error
	})
}

// AppendFailures stores a batch of row-level failure records.
func (s *Store) AppendFailures(ctx context.Context, failures []core.RowFailure) error {
	if len(failures) == 0 {
		return nil
	}
	for i := range failures {
		failures[i].Message = security.SanitizeErrorMessage(failures[i].Message)
	}
	return s.db.WithContext(ctx).Create(&failures).Error
}

// ListFailures returns a job's failure list in source-row order.
func (s *Store) ListFailures(ctx context.Context, jobID string) ([]core.RowFailure, error) {
	var failures []core.RowFailure
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("row_index ASC, id ASC").
		Find(&failures).Error
	return failures, err
}

// ReleaseStaleLeases recovers jobs whose worker died. Validation restarts
// from scratch (it is side-effect free); commits keep their status and
// resume from the checkpoint.
func (s *Store) ReleaseStaleLeases(ctx context.Context, staleFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleFor)

	validating := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND locked_until < ?", core.StatusValidating, cutoff).
		Updates(map[string]any{
			"status":       core.StatusPending,
			"checkpoint":   0,
			"locked_by":    "",
			"locked_until": nil,
		})
	if validating.Error != nil {
		return 0, validating.Error
	}

	committing := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ? AND locked_until < ?", core.StatusCommitting, cutoff).
		Updates(map[string]any{
			"locked_by":    "",
			"locked_until": nil,
		})
	if committing.Error != nil {
		return validating.RowsAffected, committing.Error
	}
	return validating.RowsAffected + committing.RowsAffected, nil
}

// ArchiveTerminal stamps terminal jobs older than the retention window as
// archived. Archived jobs stay queryable; nothing is deleted.
func (s *Store) ArchiveTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status IN ?", []core.JobStatus{
			core.StatusCompleted, core.StatusFailed, core.StatusCancelled,
		}).
		Where("completed_at < ? AND archived_at IS NULL", cutoff).
		Update("archived_at", time.Now())
	return result.RowsAffected, result.Error
}
