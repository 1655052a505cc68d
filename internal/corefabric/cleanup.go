package corefabric

import (
	"sync"
	"time"

	duoerrors "github.com/tinyclue/duocapture/internal/errors"
)

// StepState is the lifecycle of one registered cleanup step within a run.
type StepState int

const (
	StepPending StepState = iota
	StepRunning
	StepVerifying
	StepDone
	StepFailed
	StepSkipped
)

// CleanupStep is one unit of teardown work, registered with its phase,
// dependencies, handler, and verifier per §4.6. Handlers must be safe to
// call twice (R1); verifiers must be side-effect-free.
type CleanupStep struct {
	Name       string
	Phase      ComponentState
	DependsOn  []string
	Handler    func() error
	Verifier   func() error
	MaxRetries int
	StateTimeout time.Duration
}

// cleanupPhaseOrder is the fixed phase sequence from §4.6.
var cleanupPhaseOrder = []ComponentState{
	StateInitiatingCleanup,
	StateStoppingCapture,
	StateFlushingStorage,
	StateReleasingResources,
	StateClosingLogs,
}

// CleanupCoordinator is the C6 ordered cleanup coordinator: fixed phase
// order, a per-phase dependency DAG of steps, verification with retry, and
// skip-propagation to transitive dependents of a failed step.
type CleanupCoordinator struct {
	mu    sync.Mutex
	steps map[string]*CleanupStep
	state map[string]StepState

	component string
	sm        *StateMachine
	monitor   *Monitor
}

// NewCleanupCoordinator builds a coordinator that drives the named
// component's state machine through the cleanup phases, reporting failures
// to the monitor.
func NewCleanupCoordinator(component string, sm *StateMachine, monitor *Monitor) *CleanupCoordinator {
	return &CleanupCoordinator{
		steps:     make(map[string]*CleanupStep),
		state:     make(map[string]StepState),
		component: component,
		sm:        sm,
		monitor:   monitor,
	}
}

// RegisterStep adds a step to the coordinator. MaxRetries defaults to 3 and
// StateTimeout to 5s when unset, per §4.6.
func (cc *CleanupCoordinator) RegisterStep(step CleanupStep) {
	if step.MaxRetries == 0 {
		step.MaxRetries = 3
	}
	if step.StateTimeout == 0 {
		step.StateTimeout = 5 * time.Second
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s := step
	cc.steps[step.Name] = &s
	cc.state[step.Name] = StepPending
}

func (cc *CleanupCoordinator) stepsForPhase(phase ComponentState) []*CleanupStep {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	var out []*CleanupStep
	for _, s := range cc.steps {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return topoSort(out)
}

// topoSort orders steps within a phase so each step follows everything it
// depends on (dependencies may cross phases but must already be satisfied
// by the time a later phase runs, since phases execute strictly in order).
func topoSort(steps []*CleanupStep) []*CleanupStep {
	byName := make(map[string]*CleanupStep, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}
	visited := make(map[string]bool)
	var out []*CleanupStep
	var visit func(s *CleanupStep)
	visit = func(s *CleanupStep) {
		if visited[s.Name] {
			return
		}
		visited[s.Name] = true
		for _, dep := range s.DependsOn {
			if d, ok := byName[dep]; ok {
				visit(d)
			}
		}
		out = append(out, s)
	}
	for _, s := range steps {
		visit(s)
	}
	return out
}

// transitiveDependents returns every step (in any phase) whose DependsOn
// chain reaches name, used to mark dependents SKIPPED when a step fails
// verification permanently.
func (cc *CleanupCoordinator) transitiveDependents(name string) []string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	var out []string
	var visit func(target string)
	visited := make(map[string]bool)
	visit = func(target string) {
		for n, s := range cc.steps {
			if visited[n] {
				continue
			}
			for _, dep := range s.DependsOn {
				if dep == target {
					visited[n] = true
					out = append(out, n)
					visit(n)
					break
				}
			}
		}
	}
	visit(name)
	return out
}

// Run executes the full fixed cleanup sequence: transition to
// INITIATING_CLEANUP, then run each phase's steps followed by their
// verifiers (retrying failed verifications with exponential backoff),
// stopping at the first phase boundary where any step is FAILED.
func (cc *CleanupCoordinator) Run() error {
	if err := cc.sm.Transition(cc.component, StateInitiatingCleanup, "cleanup_requested"); err != nil {
		return err
	}

	for _, phase := range cleanupPhaseOrder {
		if phase != StateInitiatingCleanup {
			if err := cc.sm.Transition(cc.component, phase, "cleanup_phase_advance"); err != nil {
				return err
			}
		}

		phaseFailed := false
		for _, step := range cc.stepsForPhase(phase) {
			if cc.StepState(step.Name) == StepSkipped {
				continue
			}
			if cc.runStepWithVerification(step) {
				continue
			}
			phaseFailed = true
			cc.markFailed(step.Name)
			for _, dep := range cc.transitiveDependents(step.Name) {
				cc.markSkipped(dep)
			}
		}

		if phaseFailed {
			_ = cc.sm.Transition(cc.component, StateCleanupFailed, "step_failed")
			if cc.monitor != nil {
				cc.monitor.ReportError(ErrorReport{
					Component: cc.component,
					Severity:  SeverityCritical,
					Kind:      "cleanup_phase_failed",
					Cause:     duoerrors.New(ErrInvariantViolated).Component("cleanup-coordinator").Category(duoerrors.CategoryCleanup).Build(),
				})
			}
			return duoerrors.New(ErrInvariantViolated).Component("cleanup-coordinator").
				Category(duoerrors.CategoryCleanup).Context("phase", phase.String()).Build()
		}
	}

	return cc.sm.Transition(cc.component, StateCleanupCompleted, "cleanup_finished")
}

func (cc *CleanupCoordinator) runStepWithVerification(step *CleanupStep) bool {
	cc.setState(step.Name, StepRunning)

	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		if err := step.Handler(); err != nil {
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		cc.setState(step.Name, StepVerifying)
		if step.Verifier == nil || step.Verifier() == nil {
			cc.setState(step.Name, StepDone)
			return true
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return false
}

func (cc *CleanupCoordinator) setState(name string, s StepState) {
	cc.mu.Lock()
	cc.state[name] = s
	cc.mu.Unlock()
}

func (cc *CleanupCoordinator) markFailed(name string)  { cc.setState(name, StepFailed) }
func (cc *CleanupCoordinator) markSkipped(name string) { cc.setState(name, StepSkipped) }

// StepState reports the current lifecycle state of a registered step.
func (cc *CleanupCoordinator) StepState(name string) StepState {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.state[name]
}
