package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyclue/duocapture/internal/corefabric"
)

func TestSampler_ReactToAdvancesStageMonotonically(t *testing.T) {
	pool := corefabric.NewPool(4, 4, 4, 50*time.Millisecond)
	s, err := NewSampler(pool, Thresholds{
		SoftBytes:      100,
		HardBytes:      200,
		EmergencyBytes: 300,
	}, time.Second)
	require.NoError(t, err)

	s.reactTo(150)
	require.Equal(t, corefabric.CleanupSoft, pool.Stage())

	// a dip back below the soft threshold must not revert the stage.
	s.reactTo(50)
	require.Equal(t, corefabric.CleanupSoft, pool.Stage())

	s.reactTo(250)
	require.Equal(t, corefabric.CleanupHard, pool.Stage())

	s.reactTo(350)
	require.Equal(t, corefabric.CleanupEmergency, pool.Stage())
}
