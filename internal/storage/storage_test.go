package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriteWAVWithChecksum_RoundTrip is P8: reading a written file back and
// recomputing CRC-32C yields the value recorded in its .sum sidecar.
func TestWriteWAVWithChecksum_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wav")

	samples := make([]int, 1600)
	for i := range samples {
		samples[i] = i % 1000
	}

	require.NoError(t, writeWAVWithChecksum(path, samples))

	ok, err := VerifyChecksum(path)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyChecksum_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wav")
	require.NoError(t, writeWAVWithChecksum(path, []int{1, 2, 3, 4}))

	sumPath := path + ".sum"
	require.NoError(t, os.WriteFile(sumPath, []byte("deadbeef\n"), 0o644))

	ok, err := VerifyChecksum(path)
	require.NoError(t, err)
	require.False(t, ok)
}
