// Package source defines the connector contracts for bulk jobs: a lazy,
// finite, restartable sequence of raw rows on the way in, and a row sink
// on the way out. File parsing and integration API clients implement
// these interfaces outside this module.
package source

import (
	"context"
	"sync"

	"github.com/threadpass/pipeline/pkg/core"
)

// RowSource produces the rows of one bulk job. Implementations must be
// restartable: Reset rewinds to the first row so a phase can re-stream
// the full sequence (validation and commit each take a full pass).
type RowSource interface {
	// Total returns the number of rows the source will produce.
	Total() int

	// Next returns the next row. ok is false once the sequence is
	// exhausted. Row indices are 1-based and stable across resets.
	Next(ctx context.Context) (row core.Row, ok bool, err error)

	// Reset rewinds the source to the first row.
	Reset() error
}

// RowSink receives exported rows. Export jobs stream the brand catalog
// through a sink chunk by chunk; the sink's encoding (CSV, API push) is
// the collaborator's concern.
type RowSink interface {
	Write(ctx context.Context, row core.Row) error
}

// Rows is an in-memory RowSource over a fixed slice. Integration tests
// and the upload handler (which receives rows already parsed) use it.
type Rows struct {
	rows []core.Row
	pos  int
}

// FromRows builds an in-memory source, assigning 1-based indices.
func FromRows(rows []map[string]string) *Rows {
	out := make([]core.Row, len(rows))
	for i, fields := range rows {
		out[i] = core.Row{Index: i + 1, Fields: fields}
	}
	return &Rows{rows: out}
}

func (s *Rows) Total() int { return len(s.rows) }

func (s *Rows) Next(ctx context.Context) (core.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Row{}, false, err
	}
	if s.pos >= len(s.rows) {
		return core.Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

func (s *Rows) Reset() error {
	s.pos = 0
	return nil
}

// Capture is a RowSink that retains everything written to it. Safe for
// the worker to write while another goroutine reads the result.
type Capture struct {
	mu   sync.Mutex
	rows []core.Row
}

func (c *Capture) Write(ctx context.Context, row core.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the rows written so far.
func (c *Capture) Snapshot() []core.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Row, len(c.rows))
	copy(out, c.rows)
	return out
}

// Discard is a RowSink that drops rows. Used when an export's consumer
// detaches before the job finishes.
type Discard struct{}

func (Discard) Write(context.Context, core.Row) error { return nil }
