package corefabric

import "errors"

// Resource pool errors (C1).
var (
	ErrPoolExhausted     = errors.New("resource pool: no buffer available within allocation timeout")
	ErrAlreadyReleased   = errors.New("resource pool: buffer already released")
	ErrUnknownBuffer     = errors.New("resource pool: buffer was not issued by this pool")
	ErrInvalidTierSize   = errors.New("resource pool: requested size does not fit any tier")
)

// Buffer manager errors (C3).
var (
	ErrQueueFull     = errors.New("buffer manager: queue is full")
	ErrQueueEmpty    = errors.New("buffer manager: queue is empty")
	ErrQueueShutdown = errors.New("buffer manager: queue is shutting down")
)

// State machine errors (C2).
var (
	ErrInvalidTransition  = errors.New("state machine: transition not permitted from current state")
	ErrInvariantViolated  = errors.New("state machine: invariant check failed before transition")
	ErrRollbackFailed     = errors.New("state machine: rollback to previous state failed")
	ErrHistoryExhausted   = errors.New("state machine: no prior state recorded to roll back to")
)

// Component coordinator errors (C4).
var (
	ErrDependencyNotReady     = errors.New("component coordinator: dependency not in ready state")
	ErrThreadHeartbeatTimeout = errors.New("component coordinator: thread missed heartbeat deadline")
	ErrUnknownComponent       = errors.New("component coordinator: component not registered")
	ErrCyclicDependency       = errors.New("component coordinator: dependency graph contains a cycle")
)

// Monitoring coordinator errors (C5).
var (
	ErrLockOrderViolation = errors.New("monitor: lock acquired out of declared hierarchy order")
)
