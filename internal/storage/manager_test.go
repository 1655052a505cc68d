package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyclue/duocapture/internal/corefabric"
)

func TestChannelWriter_FlushIsNoopWhileFlushing(t *testing.T) {
	dir := t.TempDir()
	pool := corefabric.NewPool(4, 4, 4, 50*time.Millisecond)
	w, err := NewChannelWriter(dir, "sess", "left", 4096, Policy{BytesThresholdPct: 0.8, AgeMS: 1000, MaxRetries: 3}, nil)
	require.NoError(t, err)

	buf, err := pool.Allocate(corefabric.SmallBufferSize)
	require.NoError(t, err)
	buf.SetLen(4)
	require.NoError(t, w.Append(buf))

	w.state.Store(int32(FlushFlushing)) // simulate a concurrent flush in progress
	require.NoError(t, w.Flush())       // B4: no-op, not an error
	w.state.Store(int32(FlushIdle))

	require.EqualValues(t, 1, w.Stats().Noops)
}

func TestChannelWriter_FlushWritesWAVAndChecksum(t *testing.T) {
	dir := t.TempDir()
	pool := corefabric.NewPool(4, 4, 4, 50*time.Millisecond)
	w, err := NewChannelWriter(dir, "sess", "left", 4096, Policy{BytesThresholdPct: 0.8, AgeMS: 1000, MaxRetries: 3}, nil)
	require.NoError(t, err)

	buf, err := pool.Allocate(corefabric.SmallBufferSize)
	require.NoError(t, err)
	buf.SetLen(8)
	require.NoError(t, w.Append(buf))
	require.NoError(t, w.Flush())

	wavPath := filepath.Join(dir, "recordings", "sess", "left", "1.wav")
	_, err = os.Stat(wavPath)
	require.NoError(t, err)
	ok, err := VerifyChecksum(wavPath)
	require.NoError(t, err)
	require.True(t, ok)
}
