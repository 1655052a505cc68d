package corefabric

import (
	"sync"
	"time"

	duoerrors "github.com/tinyclue/duocapture/internal/errors"
	"github.com/google/uuid"
)

// ThreadID identifies a registered worker thread for heartbeat tracking.
type ThreadID string

// HealthStatus summarizes a component's liveness for the C4 health() call.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnresponsive
)

// HealthReport is one entry of the map returned by Coordinator.Health.
type HealthReport struct {
	Name          string
	State         ComponentState
	Status        HealthStatus
	LastHeartbeat time.Time
	ActiveThreads int
}

// ComponentHandle identifies a registered component to the coordinator.
type ComponentHandle struct {
	Name string
}

type componentRecord struct {
	name         string
	kind         string
	dependencies []string
	resources    map[BufferTier]int
	threads      map[ThreadID]time.Time
}

// Coordinator is the C4 component coordinator: registry, dependency graph,
// per-component resource accounting, and thread/heartbeat registry. State
// itself is delegated to an embedded StateMachine per §2 ("C2 is embedded
// in C4 per component").
type Coordinator struct {
	mu          sync.Mutex
	records     map[string]*componentRecord
	sm          *StateMachine
	pool        *Pool
	threadTimeout time.Duration

	onThreadTimeout func(component string, tid ThreadID)
}

// NewCoordinator builds a coordinator backed by the given pool (for
// resource accounting) and state machine, with the given heartbeat
// deadline.
func NewCoordinator(pool *Pool, sm *StateMachine, threadTimeout time.Duration) *Coordinator {
	return &Coordinator{
		records:       make(map[string]*componentRecord),
		sm:            sm,
		pool:          pool,
		threadTimeout: threadTimeout,
	}
}

// OnThreadTimeout registers a callback invoked when a registered thread
// misses its heartbeat deadline. The pipeline wiring layer uses it to write
// a recovery-log entry; the event is not reported to the monitor (C5).
func (c *Coordinator) OnThreadTimeout(fn func(component string, tid ThreadID)) {
	c.mu.Lock()
	c.onThreadTimeout = fn
	c.mu.Unlock()
}

// Register adds a component to the registry with initial state
// UNINITIALIZED, rejecting cyclic dependency declarations.
func (c *Coordinator) Register(name, kind string, dependencies []string) (ComponentHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[name]; exists {
		return ComponentHandle{}, duoerrors.New(ErrUnknownComponent).Component("component-coordinator").
			Category(duoerrors.CategoryComponent).Context("reason", "already registered").Build()
	}

	rec := &componentRecord{
		name:         name,
		kind:         kind,
		dependencies: dependencies,
		resources:    make(map[BufferTier]int),
		threads:      make(map[ThreadID]time.Time),
	}
	c.records[name] = rec

	if c.hasCycleLocked(name, make(map[string]bool)) {
		delete(c.records, name)
		return ComponentHandle{}, duoerrors.New(ErrCyclicDependency).Component("component-coordinator").
			Category(duoerrors.CategoryComponent).Build()
	}

	return ComponentHandle{Name: name}, nil
}

func (c *Coordinator) hasCycleLocked(name string, visiting map[string]bool) bool {
	if visiting[name] {
		return true
	}
	rec, ok := c.records[name]
	if !ok {
		return false
	}
	visiting[name] = true
	for _, dep := range rec.dependencies {
		if c.hasCycleLocked(dep, visiting) {
			return true
		}
	}
	delete(visiting, name)
	return false
}

// ReadyToLeaveInitializing enforces §4.4's dependency rule: a component may
// not leave INITIALIZING until all declared dependencies are at least IDLE.
func (c *Coordinator) ReadyToLeaveInitializing(handle ComponentHandle) error {
	c.mu.Lock()
	rec, ok := c.records[handle.Name]
	c.mu.Unlock()
	if !ok {
		return duoerrors.New(ErrUnknownComponent).Component("component-coordinator").
			Category(duoerrors.CategoryComponent).Build()
	}
	for _, dep := range rec.dependencies {
		if c.sm.Current(dep) < StateIdle {
			return duoerrors.New(ErrDependencyNotReady).Component("component-coordinator").
				Category(duoerrors.CategoryComponent).Context("dependency", dep).Build()
		}
	}
	return nil
}

// RequestResource delegates to the pool and accounts usage per component.
func (c *Coordinator) RequestResource(handle ComponentHandle, size int) (*Buffer, error) {
	buf, err := c.pool.Allocate(size)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if rec, ok := c.records[handle.Name]; ok {
		rec.resources[buf.Tier]++
	}
	c.mu.Unlock()
	return buf, nil
}

// ReleaseResource mirrors RequestResource: it releases the buffer and
// decrements the component's usage counters, refusing under-release.
func (c *Coordinator) ReleaseResource(handle ComponentHandle, buf *Buffer) error {
	c.mu.Lock()
	rec, ok := c.records[handle.Name]
	if ok && rec.resources[buf.Tier] <= 0 {
		c.mu.Unlock()
		return duoerrors.New(ErrUnknownComponent).Component("component-coordinator").
			Category(duoerrors.CategoryComponent).Context("reason", "under-release").Build()
	}
	if ok {
		rec.resources[buf.Tier]--
	}
	c.mu.Unlock()
	return buf.Release()
}

// RegisterThread issues a new ThreadID tracked for heartbeat liveness.
func (c *Coordinator) RegisterThread(handle ComponentHandle) (ThreadID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[handle.Name]
	if !ok {
		return "", duoerrors.New(ErrUnknownComponent).Component("component-coordinator").
			Category(duoerrors.CategoryComponent).Build()
	}
	tid := ThreadID(uuid.NewString())
	rec.threads[tid] = time.Now()
	return tid, nil
}

// UnregisterThread removes a thread from heartbeat tracking.
func (c *Coordinator) UnregisterThread(handle ComponentHandle, tid ThreadID) {
	c.mu.Lock()
	if rec, ok := c.records[handle.Name]; ok {
		delete(rec.threads, tid)
	}
	c.mu.Unlock()
}

// ThreadTick records a liveness heartbeat for tid.
func (c *Coordinator) ThreadTick(handle ComponentHandle, tid ThreadID) {
	c.mu.Lock()
	if rec, ok := c.records[handle.Name]; ok {
		rec.threads[tid] = time.Now()
	}
	c.mu.Unlock()
}

// CheckHeartbeats scans every registered thread for missed deadlines,
// invoking the registered timeout callback and pushing the owning
// component toward ERROR. Intended to be called periodically by the
// pipeline wiring layer.
func (c *Coordinator) CheckHeartbeats() {
	now := time.Now()
	type miss struct {
		component string
		tid       ThreadID
	}
	var missed []miss

	c.mu.Lock()
	for name, rec := range c.records {
		for tid, last := range rec.threads {
			if now.Sub(last) > c.threadTimeout {
				missed = append(missed, miss{component: name, tid: tid})
			}
		}
	}
	cb := c.onThreadTimeout
	c.mu.Unlock()

	for _, m := range missed {
		if cb != nil {
			cb(m.component, m.tid)
		}
		_ = c.sm.Transition(m.component, StateError, "thread_heartbeat_timeout")
	}
}

// Health returns a liveness snapshot for every registered component.
func (c *Coordinator) Health() map[string]HealthReport {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]HealthReport, len(c.records))
	for name, rec := range c.records {
		var last time.Time
		for _, t := range rec.threads {
			if t.After(last) {
				last = t
			}
		}
		status := HealthHealthy
		if len(rec.threads) > 0 {
			if now.Sub(last) > c.threadTimeout {
				status = HealthUnresponsive
			} else if now.Sub(last) > c.threadTimeout/2 {
				status = HealthDegraded
			}
		}
		out[name] = HealthReport{
			Name:          name,
			State:         c.sm.Current(name),
			Status:        status,
			LastHeartbeat: last,
			ActiveThreads: len(rec.threads),
		}
	}
	return out
}
