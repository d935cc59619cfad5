// Package core provides the domain models and interfaces for the pipeline package.
package core

import (
	"time"
)

// JobKind identifies the bulk operation a job performs.
type JobKind string

const (
	KindImport    JobKind = "import"
	KindExport    JobKind = "export"
	KindPromotion JobKind = "promotion"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusValidating JobStatus = "validating"
	StatusValidated  JobStatus = "validated"
	StatusCommitting JobStatus = "committing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Job represents one tracked unit of asynchronous bulk work: an import,
// an export, or an integration promotion. A job is owned by exactly one
// brand and is mutated only by the worker holding its lease.
type Job struct {
	ID      string    `gorm:"primaryKey;size:36"`
	BrandID string    `gorm:"index;size:36;not null"`
	Kind    JobKind   `gorm:"size:20;not null"`
	Status  JobStatus `gorm:"index;size:20;default:'pending'"`

	// ActingSource is the data source this job writes as: "manual" for
	// spreadsheet uploads, or an integration connection identity.
	ActingSource Source `gorm:"size:128;not null"`

	// SourceRef names where the rows come from (upload reference,
	// connection ID, or the promotion target source).
	SourceRef string `gorm:"size:512"`

	Total     int `gorm:"default:0"`
	Processed int `gorm:"default:0"`
	Created   int `gorm:"default:0"`
	Updated   int `gorm:"default:0"`
	Skipped   int `gorm:"default:0"`
	Failed    int `gorm:"default:0"`

	// Checkpoint is the index of the last fully processed row in the
	// current phase. Persisted at chunk boundaries so a re-entrant
	// Advance resumes instead of redoing committed chunks.
	Checkpoint int `gorm:"default:0"`

	// CancelRequested is the cooperative cancellation flag, consulted
	// between chunks. A chunk in flight completes before it is honored.
	CancelRequested bool `gorm:"default:false"`

	Message   string `gorm:"type:text"`
	ErrorKind string `gorm:"size:40"`

	LockedBy    string     `gorm:"size:255"`
	LockedUntil *time.Time `gorm:"index"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	ArchivedAt  *time.Time `gorm:"index"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

// FailureKind classifies a row-level failure entry.
type FailureKind string

const (
	FailureMissingField     FailureKind = "missing_field"
	FailureBadType          FailureKind = "bad_type"
	FailureUnknownReference FailureKind = "unknown_reference"
	FailureTooLong          FailureKind = "too_long"
	FailureDuplicate        FailureKind = "duplicate"
	FailureConflict         FailureKind = "ownership_conflict"
	FailureStorage          FailureKind = "storage"
)

// RowFailure is one row-level failure or warning recorded against a job.
// RowIndex is 1-based and refers to the position in the submitted source,
// so the dashboard can point at the offending spreadsheet row.
type RowFailure struct {
	ID        uint        `gorm:"primaryKey;autoIncrement"`
	JobID     string      `gorm:"index;size:36;not null"`
	RowIndex  int         `gorm:"not null"`
	Column    string      `gorm:"size:128"`
	Message   string      `gorm:"type:text"`
	Kind      FailureKind `gorm:"size:32"`
	Warning   bool        `gorm:"default:false"`
	CreatedAt time.Time   `gorm:"autoCreateTime"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return TerminalStatus(j.Status)
}

// TerminalStatus reports whether s is a status from which no further
// transition occurs.
func TerminalStatus(s JobStatus) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status machine permits moving from
// one status to another. Cancellation is allowed from any non-terminal
// status; everything else follows the phase order.
func CanTransition(from, to JobStatus) bool {
	if TerminalStatus(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusValidating
	case StatusValidating:
		return to == StatusValidated || to == StatusFailed
	case StatusValidated:
		return to == StatusCommitting
	case StatusCommitting:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}
