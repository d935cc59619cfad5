// Package progress implements the per-job publish/subscribe channel that
// fans job status snapshots out to live observers. Delivery is best
// effort: the job record is the source of truth and a missed event is
// superseded by the next one, so slow observers lose their oldest
// buffered events, never the newest.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadpass/pipeline/pkg/core"
)

// DefaultBufferSize is the per-observer event buffer.
const DefaultBufferSize = 16

// Hub is an explicitly-owned observer registry, process-lifetime only.
// Construct one per process (or per test) and pass it where it is
// needed; there is no package-level instance.
type Hub struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	bufSize int
}

type entry struct {
	observers map[string]*Observer
	lastSeen  time.Time
	terminal  bool
}

// Observer is one attached consumer of a job's status events.
type Observer struct {
	id    string
	jobID string
	ch    chan core.StatusEvent
}

// Events is the observer's receive channel. It is closed when the
// observer is detached or the job's registry entry is cleaned up.
func (o *Observer) Events() <-chan core.StatusEvent { return o.ch }

// JobID returns the job the observer is attached to.
func (o *Observer) JobID() string { return o.jobID }

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-observer event buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		jobs:    make(map[string]*entry),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach registers an observer for a job and returns it together with
// the job's connection count after attaching. Attaching never fails;
// a job that already finished simply delivers nothing further, and the
// caller falls back to polling status.
func (h *Hub) Attach(jobID string) (*Observer, int) {
	o := &Observer{
		id:    uuid.New().String(),
		jobID: jobID,
		ch:    make(chan core.StatusEvent, h.bufSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.jobs[jobID]
	if !ok {
		e = &entry{observers: make(map[string]*Observer)}
		h.jobs[jobID] = e
	}
	e.observers[o.id] = o
	e.lastSeen = time.Now()
	return o, len(e.observers)
}

// Publish fans an event out to every observer of the job. Publishing to
// a job with no registry entry is a no-op: the orchestrator may finish
// before any client attaches. Once a terminal event has been published
// for a job, later publishes are dropped.
func (h *Hub) Publish(jobID string, ev core.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.jobs[jobID]
	if !ok || e.terminal {
		return
	}
	e.lastSeen = time.Now()
	if ev.Terminal() {
		e.terminal = true
	}

	for _, o := range e.observers {
		select {
		case o.ch <- ev:
		default:
			// Buffer full: evict the oldest event, then retry once. If
			// the observer drained in between, the second send wins; a
			// concurrent reader at worst costs one stale event.
			select {
			case <-o.ch:
			default:
			}
			select {
			case o.ch <- ev:
			default:
			}
		}
	}
}

// Detach removes one observer and closes its channel. A job with zero
// observers keeps processing unaffected.
func (h *Hub) Detach(o *Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.jobs[o.jobID]
	if !ok {
		return
	}
	if _, attached := e.observers[o.id]; !attached {
		return
	}
	delete(e.observers, o.id)
	close(o.ch)
}

// Cleanup forcibly detaches every observer of a job and frees its
// registry entry.
func (h *Hub) Cleanup(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.jobs[jobID]
	if !ok {
		return
	}
	for _, o := range e.observers {
		close(o.ch)
	}
	delete(h.jobs, jobID)
}

// Connections returns the live observer count for a job.
func (h *Hub) Connections(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.jobs[jobID]; ok {
		return len(e.observers)
	}
	return 0
}

// SweepIdle frees registry entries idle longer than ttl, detaching any
// remaining observers. Returns how many entries were freed.
func (h *Hub) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	h.mu.Lock()
	defer h.mu.Unlock()

	freed := 0
	for jobID, e := range h.jobs {
		if e.lastSeen.Before(cutoff) {
			for _, o := range e.observers {
				close(o.ch)
			}
			delete(h.jobs, jobID)
			freed++
		}
	}
	return freed
}
