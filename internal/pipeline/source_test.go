package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioSource_NextFrameProducesPCMBytes(t *testing.T) {
	src := NewAudioSource(16000)
	dst := make([]byte, 4096)

	n := src.NextFrame("left", dst)
	require.Positive(t, n)
	require.Equal(t, 0, n%2) // whole 16-bit samples only

	// left and right channels are distinct tones, so their phases diverge.
	leftPhaseBefore := src.leftPhase
	_ = src.NextFrame("right", dst)
	require.Equal(t, leftPhaseBefore, src.leftPhase)
	require.NotEqual(t, src.leftPhase, src.rightPhase)
}

func TestChannelOf(t *testing.T) {
	require.Equal(t, channelOf("left"), channelOf("left"))
	require.NotEqual(t, channelOf("left"), channelOf("right"))
}
