package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpass/pipeline/pkg/core"
)

func TestFromRows_AssignsOneBasedIndices(t *testing.T) {
	src := FromRows([]map[string]string{
		{"upid": "A"},
		{"upid": "B"},
	})
	ctx := context.Background()

	assert.Equal(t, 2, src.Total())

	row, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, row.Index)
	assert.Equal(t, "A", row.Get("upid"))

	row, ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, row.Index)

	_, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRows_Reset(t *testing.T) {
	src := FromRows([]map[string]string{{"upid": "A"}})
	ctx := context.Background()

	_, _, err := src.Next(ctx)
	require.NoError(t, err)
	_, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, src.Reset())

	row, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, row.Index)
}

func TestNext_HonorsContext(t *testing.T) {
	src := FromRows([]map[string]string{{"upid": "A"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := src.Next(ctx)
	assert.Error(t, err)
}

func TestCapture_CollectsRows(t *testing.T) {
	sink := &Capture{}
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, core.Row{Index: 1, Fields: map[string]string{"upid": "A"}}))
	require.NoError(t, sink.Write(ctx, core.Row{Index: 2, Fields: map[string]string{"upid": "B"}}))

	rows := sink.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[1].Get("upid"))

	// Snapshot hands out a copy, not the backing slice.
	rows[0] = core.Row{Index: 99}
	assert.Equal(t, 1, sink.Snapshot()[0].Index)
}

func TestDiscard_AcceptsEverything(t *testing.T) {
	require.NoError(t, Discard{}.Write(context.Background(), core.Row{Index: 1}))
}
