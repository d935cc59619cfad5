package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/threadpass/pipeline/pkg/core"
)

// newTestStore creates a fresh in-memory SQLite store for each test,
// fully migrated.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newTestJob(brandID string, kind core.JobKind) *core.Job {
	return &core.Job{
		BrandID:      brandID,
		Kind:         kind,
		ActingSource: core.SourceManual,
	}
}

func leaseJob(t *testing.T, s *Store, workerID string) *core.Job {
	t.Helper()
	job, err := s.NextRunnable(context.Background(), workerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestCreateJob_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusPending, job.Status)
}

func TestGetJob_BrandScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// Another brand's lookup is indistinguishable from a missing job.
	_, err = s.GetJob(ctx, "brand-2", job.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetJob(ctx, "brand-1", "no-such-job")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNextRunnable_LeasesOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, first))
	second := newTestJob("brand-1", core.KindImport)
	second.CreatedAt = time.Now().Add(time.Minute)
	require.NoError(t, s.CreateJob(ctx, second))

	leased := leaseJob(t, s, "worker-1")
	assert.Equal(t, first.ID, leased.ID)
	assert.Equal(t, "worker-1", leased.LockedBy)
	require.NotNil(t, leased.LockedUntil)
	assert.NotNil(t, leased.StartedAt)
}

func TestNextRunnable_SkipsLeased(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))

	first := leaseJob(t, s, "worker-1")

	// The second worker must not steal the live lease.
	other, err := s.NextRunnable(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, other)
	assert.Equal(t, "worker-1", first.LockedBy)
}

func TestNextRunnable_EmptyQueue(t *testing.T) {
	s := newTestStore(t)

	job, err := s.NextRunnable(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSetStatus_EnforcesLeaseAndMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	err := s.SetStatus(ctx, job.ID, "worker-2", core.StatusValidating, "")
	assert.ErrorIs(t, err, core.ErrJobNotOwned)

	err = s.SetStatus(ctx, job.ID, "worker-1", core.StatusCompleted, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, "validating"))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusValidating, got.Status)
	assert.Equal(t, "validating", got.Message)
}

func TestSaveProgress_PersistsAndReturnsFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	job.Total = 250
	job.Processed = 100
	job.Failed = 2
	job.Checkpoint = 100

	fresh, err := s.SaveProgress(ctx, job, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 100, fresh.Processed)
	assert.Equal(t, 100, fresh.Checkpoint)
	assert.False(t, fresh.CancelRequested)

	_, err = s.SaveProgress(ctx, job, "worker-2")
	assert.ErrorIs(t, err, core.ErrJobNotOwned)
}

func TestSaveProgress_SurfacesCancelFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	_, err := s.RequestCancel(ctx, "brand-1", job.ID)
	require.NoError(t, err)

	fresh, err := s.SaveProgress(ctx, job, "worker-1")
	require.NoError(t, err)
	assert.True(t, fresh.CancelRequested)
}

func TestFinish_ReleasesLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")
	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, ""))

	require.NoError(t, s.Finish(ctx, job.ID, "worker-1", core.StatusValidated, "done", ""))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusValidated, got.Status)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)
	assert.Nil(t, got.CompletedAt, "validated is not terminal")
}

func TestFinish_TerminalStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")
	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, ""))

	require.NoError(t, s.Finish(ctx, job.ID, "worker-1", core.StatusFailed, "boom", "storage"))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, "storage", got.ErrorKind)
	assert.NotNil(t, got.CompletedAt)
}

func TestApprove_OnlyFromValidated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	err := s.Approve(ctx, "brand-1", job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, ""))
	require.NoError(t, s.Finish(ctx, job.ID, "worker-1", core.StatusValidated, "", ""))

	require.NoError(t, s.Approve(ctx, "brand-1", job.ID))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCommitting, got.Status)
	assert.Zero(t, got.Checkpoint)

	// Approving again is a conflict, not a reset.
	err = s.Approve(ctx, "brand-1", job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestApprove_WrongBrand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))

	err := s.Approve(ctx, "brand-2", "no-such-job")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRequestCancel_TerminalJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")
	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, ""))
	require.NoError(t, s.Finish(ctx, job.ID, "worker-1", core.StatusCancelled, "", ""))

	_, err := s.RequestCancel(ctx, "brand-1", job.ID)
	assert.ErrorIs(t, err, core.ErrJobTerminal)
}

func TestRequestCancel_UnleasedValidatedTurnsCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")
	require.NoError(t, s.SetStatus(ctx, job.ID, "worker-1", core.StatusValidating, ""))
	require.NoError(t, s.Finish(ctx, job.ID, "worker-1", core.StatusValidated, "", ""))

	// Awaiting approval, no lease held: cancelling must turn the job
	// terminal right here, since no worker will ever pick it up.
	got, err := s.RequestCancel(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, got.Status)
	assert.True(t, got.CancelRequested)
	assert.NotNil(t, got.CompletedAt)

	fresh, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, fresh.Status)
	assert.NotNil(t, fresh.CompletedAt)

	next, err := s.NextRunnable(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRequestCancel_LeasedJobOnlyFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	got, err := s.RequestCancel(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, core.StatusPending, got.Status, "the worker holding the lease finishes the cancel")
}

func TestResetPhase_ClearsCountersAndFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("brand-1", core.KindImport)))
	job := leaseJob(t, s, "worker-1")

	job.Processed = 10
	job.Failed = 2
	job.Checkpoint = 10
	_, err := s.SaveProgress(ctx, job, "worker-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendFailures(ctx, []core.RowFailure{
		{JobID: job.ID, RowIndex: 3, Message: "bad"},
	}))

	require.NoError(t, s.ResetPhase(ctx, job.ID, "worker-1", 500))

	got, err := s.GetJob(ctx, "brand-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.Total)
	assert.Zero(t, got.Processed)
	assert.Zero(t, got.Failed)
	assert.Zero(t, got.Checkpoint)

	failures, err := s.ListFailures(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestAppendFailures_OrderedByRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.AppendFailures(ctx, []core.RowFailure{
		{JobID: job.ID, RowIndex: 200, Column: "product_name", Message: "required"},
		{JobID: job.ID, RowIndex: 10, Column: "product_name", Message: "required"},
	}))

	failures, err := s.ListFailures(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, 10, failures[0].RowIndex)
	assert.Equal(t, 200, failures[1].RowIndex)
}

func TestReleaseStaleLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)

	validating := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, validating))
	require.NoError(t, s.db.Model(validating).Updates(map[string]any{
		"status":       core.StatusValidating,
		"checkpoint":   120,
		"locked_by":    "dead-worker",
		"locked_until": stale,
	}).Error)

	committing := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, committing))
	require.NoError(t, s.db.Model(committing).Updates(map[string]any{
		"status":       core.StatusCommitting,
		"checkpoint":   120,
		"locked_by":    "dead-worker",
		"locked_until": stale,
	}).Error)

	n, err := s.ReleaseStaleLeases(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Validation restarts from scratch.
	got, err := s.GetJob(ctx, "brand-1", validating.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Zero(t, got.Checkpoint)
	assert.Empty(t, got.LockedBy)

	// Commits resume from the checkpoint.
	got, err = s.GetJob(ctx, "brand-1", committing.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCommitting, got.Status)
	assert.Equal(t, 120, got.Checkpoint)
	assert.Empty(t, got.LockedBy)

	// Both are runnable again.
	leased := leaseJob(t, s, "worker-2")
	assert.NotNil(t, leased)
}

func TestArchiveTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, old))
	longAgo := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, s.db.Model(old).Updates(map[string]any{
		"status":       core.StatusCompleted,
		"completed_at": longAgo,
	}).Error)

	recent := newTestJob("brand-1", core.KindImport)
	require.NoError(t, s.CreateJob(ctx, recent))
	require.NoError(t, s.db.Model(recent).Updates(map[string]any{
		"status":       core.StatusCompleted,
		"completed_at": time.Now(),
	}).Error)

	n, err := s.ArchiveTerminal(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetJob(ctx, "brand-1", old.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ArchivedAt)

	// Archived jobs still show in history.
	jobs, err := s.ListJobs(ctx, "brand-1", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
