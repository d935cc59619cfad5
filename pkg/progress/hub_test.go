package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpass/pipeline/pkg/core"
)

func event(jobID string, processed int) core.StatusEvent {
	return core.StatusEvent{
		JobID:     jobID,
		Status:    core.StatusValidating,
		Processed: processed,
		Timestamp: time.Now(),
	}
}

func terminalEvent(jobID string) core.StatusEvent {
	return core.StatusEvent{
		JobID:     jobID,
		Status:    core.StatusCompleted,
		Timestamp: time.Now(),
	}
}

func drain(ch <-chan core.StatusEvent) []core.StatusEvent {
	var out []core.StatusEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAttach_CountsConnections(t *testing.T) {
	h := NewHub()

	_, n := h.Attach("job-1")
	assert.Equal(t, 1, n)
	_, n = h.Attach("job-1")
	assert.Equal(t, 2, n)

	assert.Equal(t, 2, h.Connections("job-1"))
	assert.Equal(t, 0, h.Connections("job-2"))
}

func TestPublish_FansOut(t *testing.T) {
	h := NewHub()

	a, _ := h.Attach("job-1")
	b, _ := h.Attach("job-1")

	h.Publish("job-1", event("job-1", 50))

	require.Len(t, drain(a.Events()), 1)
	require.Len(t, drain(b.Events()), 1)
}

func TestPublish_NoObserversIsNoop(t *testing.T) {
	h := NewHub()

	// Never panics, never blocks.
	h.Publish("job-1", event("job-1", 1))
	assert.Equal(t, 0, h.Connections("job-1"))
}

func TestPublish_SlowObserverLosesOldest(t *testing.T) {
	h := NewHub(WithBufferSize(2))
	obs, _ := h.Attach("job-1")

	h.Publish("job-1", event("job-1", 1))
	h.Publish("job-1", event("job-1", 2))
	h.Publish("job-1", event("job-1", 3))

	got := drain(obs.Events())
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Processed, "oldest event evicted")
	assert.Equal(t, 3, got[1].Processed, "newest event kept")
}

func TestPublish_NothingAfterTerminal(t *testing.T) {
	h := NewHub()
	obs, _ := h.Attach("job-1")

	h.Publish("job-1", terminalEvent("job-1"))
	h.Publish("job-1", event("job-1", 99))

	got := drain(obs.Events())
	require.Len(t, got, 1)
	assert.True(t, got[0].Terminal())
}

func TestDetach_ClosesChannel(t *testing.T) {
	h := NewHub()
	obs, _ := h.Attach("job-1")

	h.Detach(obs)

	_, open := <-obs.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.Connections("job-1"))

	// Double detach is safe.
	h.Detach(obs)
	h.Detach(nil)
}

func TestCleanup_DetachesEveryone(t *testing.T) {
	h := NewHub()
	a, _ := h.Attach("job-1")
	b, _ := h.Attach("job-1")

	h.Cleanup("job-1")

	_, open := <-a.Events()
	assert.False(t, open)
	_, open = <-b.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.Connections("job-1"))

	// Cleaning an unknown job is a no-op.
	h.Cleanup("job-2")
}

func TestSweepIdle(t *testing.T) {
	h := NewHub()
	obs, _ := h.Attach("job-1")

	assert.Zero(t, h.SweepIdle(time.Hour), "fresh entries survive")

	freed := h.SweepIdle(-time.Second)
	assert.Equal(t, 1, freed)

	_, open := <-obs.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.Connections("job-1"))
}

func TestObserver_JobID(t *testing.T) {
	h := NewHub()
	obs, _ := h.Attach("job-1")
	assert.Equal(t, "job-1", obs.JobID())
}
