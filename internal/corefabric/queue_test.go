package corefabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBuffer(tag byte) *Buffer {
	return &Buffer{Data: []byte{tag}, used: 1}
}

// TestChannelQueue_DropOldestOverflow is S3: enqueuing A, B, C, D into a
// capacity-2 queue with the consumer paused leaves the queue at exactly
// capacity with overruns == 2, and the survivors are C and D.
func TestChannelQueue_DropOldestOverflow(t *testing.T) {
	q := newChannelQueue(2)

	require.NoError(t, q.Put(newTestBuffer('A'), 0))
	require.NoError(t, q.Put(newTestBuffer('B'), 0))
	require.NoError(t, q.Put(newTestBuffer('C'), 0)) // drops A
	require.NoError(t, q.Put(newTestBuffer('D'), 0)) // drops B

	require.Equal(t, 2, q.Size())
	require.Equal(t, uint64(2), q.Metrics().Overruns)

	first, err := q.Get(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('C'), first.Data[0])

	second, err := q.Get(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('D'), second.Data[0])
}

// TestChannelQueue_NeverExceedsCapacity is P3.
func TestChannelQueue_NeverExceedsCapacity(t *testing.T) {
	q := newChannelQueue(3)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Put(newTestBuffer(byte(i)), 0))
		require.LessOrEqual(t, q.Size(), 3)
	}
}

func TestChannelQueue_GetTimesOutWhenEmpty(t *testing.T) {
	q := newChannelQueue(2)
	_, err := q.Get(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrQueueEmpty)
}

func TestChannelQueue_ShutdownDrainsThenErrors(t *testing.T) {
	q := newChannelQueue(2)
	require.NoError(t, q.Put(newTestBuffer('A'), 0))
	q.Shutdown()

	buf, err := q.Get(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('A'), buf.Data[0])

	_, err = q.Get(time.Second)
	require.ErrorIs(t, err, ErrQueueShutdown)
}

func TestBufferManager_ChannelSkew(t *testing.T) {
	bm := NewBufferManager(10, 10, 10)
	require.NoError(t, bm.Queue(StageCapture, ChannelLeft).Put(newTestBuffer('A'), 0))
	require.NoError(t, bm.Queue(StageCapture, ChannelLeft).Put(newTestBuffer('B'), 0))
	require.Equal(t, 2, bm.ChannelSkew(StageCapture))
}
