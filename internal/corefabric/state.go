package corefabric

import (
	"sync"
	"time"

	duoerrors "github.com/tinyclue/duocapture/internal/errors"
)

// ComponentState enumerates the fixed state graph of §4.2.
type ComponentState int

const (
	StateUninitialized ComponentState = iota
	StateInitializing
	StateIdle
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError

	StateInitiatingCleanup
	StateStoppingCapture
	StateFlushingStorage
	StateReleasingResources
	StateClosingLogs
	StateCleanupCompleted
	StateCleanupFailed
)

func (s ComponentState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	case StateInitiatingCleanup:
		return "INITIATING_CLEANUP"
	case StateStoppingCapture:
		return "STOPPING_CAPTURE"
	case StateFlushingStorage:
		return "FLUSHING_STORAGE"
	case StateReleasingResources:
		return "RELEASING_RESOURCES"
	case StateClosingLogs:
		return "CLOSING_LOGS"
	case StateCleanupCompleted:
		return "CLEANUP_COMPLETED"
	case StateCleanupFailed:
		return "CLEANUP_FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s ComponentState) isTerminal() bool {
	return s == StateCleanupCompleted || s == StateCleanupFailed
}

// legalEdges is the fixed directed transition graph. Any edge absent here
// is rejected with ErrInvalidTransition, except "any non-terminal → ERROR"
// and "any cleanup phase → CLEANUP_FAILED" which are handled as blanket
// rules in isLegalEdge.
var legalEdges = map[ComponentState]map[ComponentState]bool{
	StateUninitialized:     {StateInitializing: true},
	StateInitializing:      {StateIdle: true},
	StateIdle:              {StateRunning: true, StateInitiatingCleanup: true},
	StateRunning:           {StatePaused: true, StateStopping: true},
	StatePaused:            {StateRunning: true},
	StateStopping:          {StateStopped: true},
	StateStopped:           {},
	StateError:             {StateInitiatingCleanup: true},
	StateInitiatingCleanup: {StateStoppingCapture: true},
	StateStoppingCapture:   {StateFlushingStorage: true},
	StateFlushingStorage:   {StateReleasingResources: true},
	StateReleasingResources: {StateClosingLogs: true},
	StateClosingLogs:       {StateCleanupCompleted: true},
}

var cleanupPhases = map[ComponentState]bool{
	StateInitiatingCleanup:  true,
	StateStoppingCapture:    true,
	StateFlushingStorage:    true,
	StateReleasingResources: true,
	StateClosingLogs:        true,
}

func isLegalEdge(from, to ComponentState) bool {
	if to == StateError && !from.isTerminal() && from != StateError {
		return true
	}
	if to == StateCleanupFailed && cleanupPhases[from] {
		return true
	}
	if edges, ok := legalEdges[from]; ok && edges[to] {
		return true
	}
	return false
}

// TransitionEvent records one state change for a component's history.
type TransitionEvent struct {
	Component    string
	From         ComponentState
	To           ComponentState
	Timestamp    time.Time
	Cause        string
	ErrorContext string
}

// Invariant is a predicate evaluated for the target state before a
// transition commits. A non-nil error aborts the transition with
// ErrInvariantViolated wrapping the returned error.
type Invariant func(component string, from, to ComponentState) error

// TransitionCallback is invoked after a transition commits, outside any
// state lock (§4.2: "callbacks never run holding a state lock").
type TransitionCallback func(event TransitionEvent)

// StateMachine is the C2 component state machine: one state per component
// name, one mutex shared by every component it tracks (transitions of
// different components are serialized), a ring-buffered history, and a shared set of
// invariants/callbacks applied to every component it tracks.
type StateMachine struct {
	mu         sync.Mutex
	states     map[string]ComponentState
	history    map[string]*ring
	historyCap int

	invariants []Invariant
	callbacks  []TransitionCallback
}

// NewStateMachine builds a state machine whose per-component history rings
// hold historyCap events (default 256 per §3 if historyCap <= 0).
func NewStateMachine(historyCap int) *StateMachine {
	if historyCap <= 0 {
		historyCap = 256
	}
	return &StateMachine{
		states:     make(map[string]ComponentState),
		history:    make(map[string]*ring),
		historyCap: historyCap,
	}
}

// RegisterInvariant adds a predicate consulted on every transition.
func (sm *StateMachine) RegisterInvariant(inv Invariant) {
	sm.mu.Lock()
	sm.invariants = append(sm.invariants, inv)
	sm.mu.Unlock()
}

// RegisterCallback adds a callback invoked after every committed transition.
func (sm *StateMachine) RegisterCallback(cb TransitionCallback) {
	sm.mu.Lock()
	sm.callbacks = append(sm.callbacks, cb)
	sm.mu.Unlock()
}

// Current returns a component's current state, defaulting to
// UNINITIALIZED for components never seen before.
func (sm *StateMachine) Current(component string) ComponentState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.states[component]
}

// Transition evaluates edge validity and invariants under the state
// machine's single lock (shared by all components), records the event, and
// only after releasing the lock invokes registered callbacks.
func (sm *StateMachine) Transition(component string, target ComponentState, cause string) error {
	sm.mu.Lock()
	from := sm.states[component]

	if !isLegalEdge(from, target) {
		sm.mu.Unlock()
		return duoerrors.New(ErrInvalidTransition).Component("state-machine").
			Category(duoerrors.CategoryStateMachine).
			Context("from", from.String()).Context("to", target.String()).Build()
	}
	for _, inv := range sm.invariants {
		if err := inv(component, from, target); err != nil {
			sm.mu.Unlock()
			return duoerrors.New(ErrInvariantViolated).Component("state-machine").
				Category(duoerrors.CategoryStateMachine).Context("cause", err.Error()).Build()
		}
	}

	sm.states[component] = target
	event := TransitionEvent{Component: component, From: from, To: target, Timestamp: time.Now(), Cause: cause}
	r, ok := sm.history[component]
	if !ok {
		r = newRing(sm.historyCap)
		sm.history[component] = r
	}
	r.push(event)

	callbacks := append([]TransitionCallback(nil), sm.callbacks...)
	sm.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
	return nil
}

// Rollback replaces the current state with the most recent event's "from"
// state, provided that reverse edge is itself legal; otherwise it
// transitions the component to ERROR.
func (sm *StateMachine) Rollback(component string) error {
	sm.mu.Lock()
	r, ok := sm.history[component]
	if !ok || r.len() == 0 {
		sm.mu.Unlock()
		return duoerrors.New(ErrHistoryExhausted).Component("state-machine").
			Category(duoerrors.CategoryStateMachine).Build()
	}
	last := r.last()
	current := sm.states[component]
	sm.mu.Unlock()

	if !isLegalEdge(current, last.From) {
		_ = sm.Transition(component, StateError, "rollback_illegal")
		return duoerrors.New(ErrRollbackFailed).Component("state-machine").
			Category(duoerrors.CategoryStateMachine).Build()
	}
	return sm.Transition(component, last.From, "rollback")
}

// History returns a component's transition events in insertion order.
func (sm *StateMachine) History(component string) []TransitionEvent {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r, ok := sm.history[component]
	if !ok {
		return nil
	}
	return r.all()
}

// ring is a fixed-capacity ring buffer of TransitionEvents; the newest
// entry evicts the oldest on overflow.
type ring struct {
	buf   []TransitionEvent
	start int
	count int
}

func newRing(cap int) *ring {
	return &ring{buf: make([]TransitionEvent, cap)}
}

func (r *ring) push(e TransitionEvent) {
	idx := (r.start + r.count) % len(r.buf)
	r.buf[idx] = e
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

func (r *ring) len() int { return r.count }

func (r *ring) last() TransitionEvent {
	idx := (r.start + r.count - 1) % len(r.buf)
	return r.buf[idx]
}

func (r *ring) all() []TransitionEvent {
	out := make([]TransitionEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
