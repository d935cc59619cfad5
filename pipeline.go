// Package pipeline provides the bulk data plane of the catalog service:
// durable multi-phase jobs over chunked row processing, with live
// progress events and field-ownership reconciliation.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open storage and wire the orchestrator
//	db, _ := gorm.Open(sqlite.Open("pipeline.db"), &gorm.Config{})
//	store := pipeline.NewStore(db)
//	store.Migrate(context.Background())
//	cat := pipeline.NewCatalog(db)
//	cat.Migrate(context.Background())
//	orch := pipeline.NewOrchestrator(store, cat, pipeline.NewReconciler(store), pipeline.NewHub())
//
//	// Submit an import
//	job, _ := orch.Submit(ctx, pipeline.SubmitRequest{
//	    BrandID:      brandID,
//	    Kind:         pipeline.KindImport,
//	    ActingSource: pipeline.SourceManual,
//	    Rows:         pipeline.FromRows(rows),
//	})
//
//	// Drive jobs
//	worker := pipeline.NewWorker(orch)
//	worker.Start(ctx)
package pipeline

import (
	"gorm.io/gorm"

	"github.com/threadpass/pipeline/pkg/catalog"
	"github.com/threadpass/pipeline/pkg/core"
	"github.com/threadpass/pipeline/pkg/ownership"
	"github.com/threadpass/pipeline/pkg/progress"
	"github.com/threadpass/pipeline/pkg/run"
	"github.com/threadpass/pipeline/pkg/security"
	"github.com/threadpass/pipeline/pkg/source"
	"github.com/threadpass/pipeline/pkg/storage"
)

type (
	// Job is one bulk operation moving through the state machine.
	Job = core.Job

	// JobKind distinguishes imports, exports, and promotions.
	JobKind = core.JobKind

	// JobStatus is the job's position in the state machine.
	JobStatus = core.JobStatus

	// RowFailure is one recorded per-row validation or commit problem.
	RowFailure = core.RowFailure

	// StatusEvent is the snapshot pushed to progress observers.
	StatusEvent = core.StatusEvent

	// Source identifies who is writing: manual entry or an integration.
	Source = core.Source

	// FieldOwnership records the authoritative source of one field.
	FieldOwnership = core.FieldOwnership

	// JobStore is the persistence contract for jobs.
	JobStore = core.JobStore

	// OwnershipStore is the persistence contract for field ownership.
	OwnershipStore = core.OwnershipStore

	// Row is one untyped input record.
	Row = core.Row

	// RowSource supplies input rows to import jobs.
	RowSource = source.RowSource

	// RowSink receives output rows from export jobs.
	RowSink = source.RowSink

	// Capture is an in-memory sink collecting exported rows.
	Capture = source.Capture

	// Store is the gorm-backed job and ownership store.
	Store = storage.Store

	// Catalog is the product catalog contract commits write through.
	Catalog = catalog.Catalog

	// GormCatalog is the gorm-backed catalog.
	GormCatalog = catalog.GormCatalog

	// Product is one catalog product.
	Product = catalog.Product

	// Variant is one sellable variation of a product.
	Variant = catalog.Variant

	// Reconciler arbitrates field ownership claims.
	Reconciler = ownership.Reconciler

	// Hub is the per-job progress channel.
	Hub = progress.Hub

	// Observer is one attached progress consumer.
	Observer = progress.Observer

	// Orchestrator creates jobs and drives them through their phases.
	Orchestrator = run.Orchestrator

	// SubmitRequest describes one bulk job.
	SubmitRequest = run.SubmitRequest

	// Option configures an Orchestrator.
	Option = run.Option

	// Worker polls for runnable jobs and drives them.
	Worker = run.Worker
)

// Job kinds
const (
	KindImport    = core.KindImport
	KindExport    = core.KindExport
	KindPromotion = core.KindPromotion
)

// Job statuses
const (
	StatusPending    = core.StatusPending
	StatusValidating = core.StatusValidating
	StatusValidated  = core.StatusValidated
	StatusCommitting = core.StatusCommitting
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusCancelled  = core.StatusCancelled
)

// SourceManual is the source identity for dashboard and spreadsheet entry.
const SourceManual = core.SourceManual

// Security limits
const (
	MaxBrandIDLength      = security.MaxBrandIDLength
	MaxSourceLength       = security.MaxSourceLength
	MaxFieldNameLength    = security.MaxFieldNameLength
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxChunkSize          = security.MaxChunkSize
	MaxRowFailures        = security.MaxRowFailures
)

// Error variables
var (
	ErrNotFound          = core.ErrNotFound
	ErrInvalidInput      = core.ErrInvalidInput
	ErrEmptySource       = core.ErrEmptySource
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrJobTerminal       = core.ErrJobTerminal
	ErrVersionConflict   = core.ErrVersionConflict
	ErrNoConflict        = core.ErrNoConflict
	ErrInvalidBrand      = core.ErrInvalidBrand
	ErrInvalidSource     = core.ErrInvalidSource
)

// NewStore creates the gorm-backed job and ownership store.
func NewStore(db *gorm.DB) *Store {
	return storage.New(db)
}

// NewCatalog creates the gorm-backed catalog.
func NewCatalog(db *gorm.DB) *GormCatalog {
	return catalog.NewGormCatalog(db)
}

// NewReconciler creates the field-ownership reconciler.
func NewReconciler(store OwnershipStore) *Reconciler {
	return ownership.New(store)
}

// NewHub creates an empty progress hub.
func NewHub(opts ...progress.Option) *Hub {
	return progress.NewHub(opts...)
}

// NewOrchestrator wires an orchestrator over its collaborators.
func NewOrchestrator(jobs JobStore, cat Catalog, owners *Reconciler, hub *Hub, opts ...Option) *Orchestrator {
	return run.NewOrchestrator(jobs, cat, owners, hub, opts...)
}

// NewWorker creates a worker with a unique lease identity.
func NewWorker(o *Orchestrator) *Worker {
	return run.NewWorker(o)
}

// FromRows builds an in-memory row source with 1-based indices.
func FromRows(rows []map[string]string) *source.Rows {
	return source.FromRows(rows)
}

// IntegrationSource builds the source identity for an integration
// connection.
func IntegrationSource(connectionID string) Source {
	return core.IntegrationSource(connectionID)
}

// ValidateBrandID checks a brand identifier.
func ValidateBrandID(id string) error {
	return security.ValidateBrandID(id)
}

// SanitizeErrorMessage truncates and sanitizes messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}
