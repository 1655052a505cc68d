package corefabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_AllocateReleaseLIFO(t *testing.T) {
	p := NewPool(4, 2, 1, 50*time.Millisecond)

	b1, err := p.Allocate(SmallBufferSize)
	require.NoError(t, err)
	b2, err := p.Allocate(SmallBufferSize)
	require.NoError(t, err)

	require.NoError(t, b1.Release())
	require.NoError(t, b2.Release())

	// LIFO: the most recently released buffer (b2) comes back first.
	b3, err := p.Allocate(SmallBufferSize)
	require.NoError(t, err)
	require.Same(t, b2, b3)
}

func TestPool_DoubleReleaseFails(t *testing.T) {
	p := NewPool(4, 2, 1, 50*time.Millisecond)
	b, err := p.Allocate(SmallBufferSize)
	require.NoError(t, err)

	require.NoError(t, b.Release())
	err = b.Release()
	require.ErrorIs(t, err, ErrAlreadyReleased)

	stats := p.Stats()
	require.Equal(t, 1, stats.PerTier[TierSmall].Free) // stack not corrupted
}

// TestPool_ExhaustionWithinTimeout is B1: allocating pool_small_max+1 SMALL
// buffers fails the last call with PoolExhausted within the allocation
// timeout.
func TestPool_ExhaustionWithinTimeout(t *testing.T) {
	p := NewPool(4, 2, 1, 50*time.Millisecond)

	held := make([]*Buffer, 0, 4)
	for i := 0; i < 4; i++ {
		b, err := p.Allocate(SmallBufferSize)
		require.NoError(t, err)
		held = append(held, b)
	}

	start := time.Now()
	_, err := p.Allocate(SmallBufferSize)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.LessOrEqual(t, elapsed, 200*time.Millisecond)

	for _, b := range held {
		require.NoError(t, b.Release())
	}
}

func TestPool_TierSelection(t *testing.T) {
	p := NewPool(1, 1, 1, 50*time.Millisecond)

	small, err := p.Allocate(10)
	require.NoError(t, err)
	require.Equal(t, TierSmall, small.Tier)

	medium, err := p.Allocate(SmallBufferSize + 1)
	require.NoError(t, err)
	require.Equal(t, TierMedium, medium.Tier)

	_, err = p.Allocate(LargeBufferSize + 1)
	require.ErrorIs(t, err, ErrInvalidTierSize)
}

// TestPool_CleanupStageMonotonic is P1/§4.1: SOFT drops half the free
// list, HARD drops all of it, and the stage never regresses.
func TestPool_CleanupStageMonotonic(t *testing.T) {
	p := NewPool(4, 0, 0, 50*time.Millisecond)
	bufs := make([]*Buffer, 4)
	var err error
	for i := range bufs {
		bufs[i], err = p.Allocate(SmallBufferSize)
		require.NoError(t, err)
	}
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}

	require.True(t, p.CleanupStage(CleanupSoft))
	require.Equal(t, 2, p.Stats().PerTier[TierSmall].Free)

	require.True(t, p.CleanupStage(CleanupHard))
	require.Equal(t, 0, p.Stats().PerTier[TierSmall].Free)

	require.False(t, p.CleanupStage(CleanupSoft)) // no regression
	require.Equal(t, CleanupHard, p.Stage())
}
