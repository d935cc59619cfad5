package core

import (
	"fmt"
	"strconv"
)

// Row is one untyped record produced by a source connector, before
// normalization. Index is the 1-based position in the source and is used
// for failure attribution.
type Row struct {
	Index  int
	Fields map[string]string
}

// Get returns the trimmed value of a column, or "" if absent.
func (r Row) Get(name string) string {
	return r.Fields[name]
}

// ValueKind is the fixed set of permitted attribute value kinds. Opaque
// per-entity attributes are carried as a typed key-to-typed-value map
// validated at the boundary, never as arbitrary nested JSON.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindBool   ValueKind = "bool"
)

// Value is one typed attribute value.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

// StringValue builds a string-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// FloatValue builds a float-kind Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// ParseValue validates and converts a raw column value into the declared
// kind. It is the single entry point raw attribute data passes through.
func ParseValue(kind ValueKind, raw string) (Value, error) {
	switch kind {
	case KindString:
		return Value{Kind: KindString, Str: raw}, nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("not an integer: %q", raw)
		}
		return Value{Kind: KindInt, Int: n}, nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("not a number: %q", raw)
		}
		return Value{Kind: KindFloat, Float: f}, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("not a boolean: %q", raw)
		}
		return Value{Kind: KindBool, Bool: b}, nil
	}
	return Value{}, fmt.Errorf("unknown value kind %q", kind)
}

// OutcomeKind classifies the result of processing one row.
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// RowError is one validation error found in a row.
type RowError struct {
	Column  string
	Message string
	Kind    FailureKind
}

// RowOutcome is the ephemeral result of processing one input record. It
// lives for the duration of a chunk; only failures survive, as RowFailure
// entries on the job.
type RowOutcome struct {
	Index int
	Kind  OutcomeKind

	// Errors holds the validation errors when Kind is OutcomeFailed.
	Errors []RowError

	// SkippedFields lists fields withheld because another source owns
	// them. The rest of the row still committed.
	SkippedFields []string

	// Warnings are recorded against the job but do not fail the row
	// (e.g. duplicate identifying key, last row wins).
	Warnings []RowError
}

// Failures converts the outcome's errors and warnings into RowFailure
// records attributed to the outcome's source row.
func (o RowOutcome) Failures(jobID string) []RowFailure {
	out := make([]RowFailure, 0, len(o.Errors)+len(o.Warnings))
	for _, e := range o.Errors {
		out = append(out, RowFailure{
			JobID:    jobID,
			RowIndex: o.Index,
			Column:   e.Column,
			Message:  e.Message,
			Kind:     e.Kind,
		})
	}
	for _, w := range o.Warnings {
		out = append(out, RowFailure{
			JobID:    jobID,
			RowIndex: o.Index,
			Column:   w.Column,
			Message:  w.Message,
			Kind:     w.Kind,
			Warning:  true,
		})
	}
	return out
}
