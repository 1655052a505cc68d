package corefabric

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("invariant boom")

func TestStateMachine_LegalTransitions(t *testing.T) {
	sm := NewStateMachine(8)
	require.NoError(t, sm.Transition("c", StateInitializing, "start"))
	require.NoError(t, sm.Transition("c", StateIdle, "ready"))
	require.NoError(t, sm.Transition("c", StateRunning, "go"))
	require.Equal(t, StateRunning, sm.Current("c"))
}

// TestStateMachine_IllegalTransition is S6: RUNNING -> INITIALIZING is
// rejected, state is unchanged, and no history event is recorded.
func TestStateMachine_IllegalTransition(t *testing.T) {
	sm := NewStateMachine(8)
	require.NoError(t, sm.Transition("c", StateInitializing, "start"))
	require.NoError(t, sm.Transition("c", StateIdle, "ready"))
	require.NoError(t, sm.Transition("c", StateRunning, "go"))

	before := len(sm.History("c"))
	err := sm.Transition("c", StateInitializing, "bad")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateRunning, sm.Current("c"))
	require.Len(t, sm.History("c"), before)
}

// TestStateMachine_Rollback is R2: rollback after a successful transition
// yields the prior state when the back-edge is legal.
func TestStateMachine_Rollback(t *testing.T) {
	sm := NewStateMachine(8)
	require.NoError(t, sm.Transition("c", StateInitializing, "start"))
	require.NoError(t, sm.Transition("c", StateIdle, "ready"))
	require.NoError(t, sm.Transition("c", StateRunning, "go"))
	require.NoError(t, sm.Transition("c", StatePaused, "pause"))

	require.NoError(t, sm.Rollback("c"))
	require.Equal(t, StateRunning, sm.Current("c"))
}

func TestStateMachine_AnyNonTerminalToError(t *testing.T) {
	sm := NewStateMachine(8)
	require.NoError(t, sm.Transition("c", StateInitializing, "start"))
	require.NoError(t, sm.Transition("c", StateError, "boom"))
	require.Equal(t, StateError, sm.Current("c"))
}

// TestStateMachine_HistoryRingCap is P4: history length never exceeds its
// configured cap.
func TestStateMachine_HistoryRingCap(t *testing.T) {
	sm := NewStateMachine(2)
	require.NoError(t, sm.Transition("c", StateInitializing, "1"))
	require.NoError(t, sm.Transition("c", StateIdle, "2"))
	require.NoError(t, sm.Transition("c", StateRunning, "3"))
	require.NoError(t, sm.Transition("c", StatePaused, "4"))

	hist := sm.History("c")
	require.Len(t, hist, 2)
	require.Equal(t, "3", hist[0].Cause)
	require.Equal(t, "4", hist[1].Cause)
}

func TestStateMachine_InvariantBlocksTransition(t *testing.T) {
	sm := NewStateMachine(8)
	sm.RegisterInvariant(func(component string, from, to ComponentState) error {
		if to == StateIdle {
			return errBoom
		}
		return nil
	})
	require.NoError(t, sm.Transition("c", StateInitializing, "start"))
	err := sm.Transition("c", StateIdle, "ready")
	require.ErrorIs(t, err, ErrInvariantViolated)
}
