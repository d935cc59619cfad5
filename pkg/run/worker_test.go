package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpass/pipeline/pkg/core"
)

func TestWorker_DrivesSubmittedJobs(t *testing.T) {
	e := newEnv(t, PollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(e.orch)
	assert.NotEmpty(t, w.ID())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	job := submitImport(t, e, makeRows(5), core.SourceManual)

	require.Eventually(t, func() bool {
		got, err := e.store.GetJob(ctx, testBrand, job.ID)
		return err == nil && got.Status == core.StatusValidated
	}, 5*time.Second, 10*time.Millisecond, "worker picks the job up and validates it")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestWorker_DistinctIdentities(t *testing.T) {
	e := newEnv(t)
	a := NewWorker(e.orch)
	b := NewWorker(e.orch)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestMaintenance_StartStop(t *testing.T) {
	e := newEnv(t)

	m := NewMaintenance(e.orch)
	require.NoError(t, m.Start())
	m.Stop()
}

func TestMaintenance_SweepsDirectly(t *testing.T) {
	e := newEnv(t)
	m := NewMaintenance(e.orch)

	// The scheduled funcs are safe against an empty store.
	m.releaseStaleLeases()
	m.archiveTerminal()
	m.sweepObservers()

	_, n := e.hub.Attach("job-1")
	assert.Equal(t, 1, n)
}
