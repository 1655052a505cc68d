package corefabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoordinator_RegisterRejectsCycle(t *testing.T) {
	pool := NewPool(4, 4, 4, 50*time.Millisecond)
	sm := NewStateMachine(8)
	c := NewCoordinator(pool, sm, time.Second)

	_, err := c.Register("a", "kind", []string{"b"})
	require.NoError(t, err)
	_, err = c.Register("b", "kind", []string{"a"})
	require.ErrorIs(t, err, ErrCyclicDependency)
}

func TestCoordinator_DependencyNotReady(t *testing.T) {
	pool := NewPool(4, 4, 4, 50*time.Millisecond)
	sm := NewStateMachine(8)
	c := NewCoordinator(pool, sm, time.Second)

	handle, err := c.Register("dependent", "kind", []string{"dependency"})
	require.NoError(t, err)
	_, err = c.Register("dependency", "kind", nil)
	require.NoError(t, err)

	err = c.ReadyToLeaveInitializing(handle)
	require.ErrorIs(t, err, ErrDependencyNotReady)

	require.NoError(t, sm.Transition("dependency", StateInitializing, "x"))
	require.NoError(t, sm.Transition("dependency", StateIdle, "x"))
	require.NoError(t, c.ReadyToLeaveInitializing(handle))
}

func TestCoordinator_ResourceAccounting(t *testing.T) {
	pool := NewPool(4, 4, 4, 50*time.Millisecond)
	sm := NewStateMachine(8)
	c := NewCoordinator(pool, sm, time.Second)
	handle, err := c.Register("worker", "kind", nil)
	require.NoError(t, err)

	buf, err := c.RequestResource(handle, SmallBufferSize)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseResource(handle, buf))

	err = c.ReleaseResource(handle, buf)
	require.Error(t, err) // under-release / already-released both refused
}

// TestCoordinator_ThreadHeartbeatTimeout is B3: a thread that skips
// thread_timeout heartbeats is reported within 2x thread_timeout and its
// component transitions toward ERROR.
func TestCoordinator_ThreadHeartbeatTimeout(t *testing.T) {
	pool := NewPool(4, 4, 4, 50*time.Millisecond)
	sm := NewStateMachine(8)
	timeout := 20 * time.Millisecond
	c := NewCoordinator(pool, sm, timeout)

	handle, err := c.Register("worker", "kind", nil)
	require.NoError(t, err)
	require.NoError(t, sm.Transition("worker", StateInitializing, "x"))
	require.NoError(t, sm.Transition("worker", StateIdle, "x"))
	require.NoError(t, sm.Transition("worker", StateRunning, "x"))

	var timedOut bool
	c.OnThreadTimeout(func(component string, tid ThreadID) { timedOut = true })

	tid, err := c.RegisterThread(handle)
	require.NoError(t, err)
	_ = tid

	deadline := time.Now().Add(2 * timeout)
	for time.Now().Before(deadline) {
		c.CheckHeartbeats()
		if timedOut {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.True(t, timedOut)
	require.Equal(t, StateError, sm.Current("worker"))
}
