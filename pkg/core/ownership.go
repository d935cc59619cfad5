package core

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies a data source writing catalog fields: either manual
// entry or a specific integration connection.
type Source string

// SourceManual is the source identity for dashboard/spreadsheet entry.
const SourceManual Source = "manual"

const integrationPrefix = "integration:"

// IntegrationSource builds the source identity for an integration
// connection.
func IntegrationSource(connectionID string) Source {
	return Source(integrationPrefix + connectionID)
}

// Integration reports whether the source is an integration connection,
// and if so returns its connection ID.
func (s Source) Integration() (string, bool) {
	if strings.HasPrefix(string(s), integrationPrefix) {
		return strings.TrimPrefix(string(s), integrationPrefix), true
	}
	return "", false
}

func (s Source) String() string { return string(s) }

// FieldOwnership records which source is authoritative for one field of
// one catalog entity. At most one active owner exists per field; a
// conflicting write from another source raises the conflict flag instead
// of overwriting, and stays held until explicitly resolved.
type FieldOwnership struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	BrandID    string `gorm:"uniqueIndex:idx_field_owner,priority:1;size:36;not null"`
	EntityType string `gorm:"uniqueIndex:idx_field_owner,priority:2;size:40;not null"`
	EntityID   string `gorm:"uniqueIndex:idx_field_owner,priority:3;size:36;not null"`
	FieldName  string `gorm:"uniqueIndex:idx_field_owner,priority:4;size:128;not null"`

	Owner Source `gorm:"size:128;not null"`

	// Conflict is set when a different source attempted a write since
	// the last reconciliation. ConflictWith names the rejected source.
	Conflict     bool   `gorm:"index;default:false"`
	ConflictWith Source `gorm:"size:128"`

	// Version is the compare-and-swap stamp serializing concurrent
	// claims on the same field.
	Version int64 `gorm:"default:0"`

	LastWrittenAt time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// ClaimResult is the outcome of asking the reconciler whether a write is
// authoritative.
type ClaimResult struct {
	// Granted is true when the acting source owns the field and the
	// write may proceed.
	Granted bool

	// Owner is the field's current owner after the claim.
	Owner Source
}

// ConflictError reports a claim refused because another source owns the
// field. Automatic commits treat it as "skip this field", not a failure.
type ConflictError struct {
	EntityType string
	EntityID   string
	Field      string
	Owner      Source
	Attempted  Source
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("pipeline: field %s.%s of %s owned by %s, write from %s held",
		e.EntityType, e.Field, e.EntityID, e.Owner, e.Attempted)
}
