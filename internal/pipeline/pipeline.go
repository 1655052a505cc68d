// Package pipeline wires together the C1-C7 fabric exposed by corefabric
// and storage into the end-to-end capture -> process -> store data path
// (C8 in SPEC_FULL.md): capture producers fill buffers from the pool and
// stage them through a raw-byte ring before handing off to the buffer
// manager, a pool of processing workers moves frames from the capture
// queue to the processing queue, and one writer goroutine per channel
// drains the processing queue into the storage manager.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/smallnest/ringbuffer"

	"github.com/tinyclue/duocapture/internal/conf"
	"github.com/tinyclue/duocapture/internal/corefabric"
	duoerrors "github.com/tinyclue/duocapture/internal/errors"
	"github.com/tinyclue/duocapture/internal/health"
	"github.com/tinyclue/duocapture/internal/logging"
	"github.com/tinyclue/duocapture/internal/recoverydb"
	"github.com/tinyclue/duocapture/internal/storage"
)

// stagingRingSize is the byte capacity of each channel's raw-PCM staging
// ring between the synthetic capture callback and the frame-slicing
// goroutine that hands buffers to C3.
const stagingRingSize = 1 << 20 // 1 MiB

// Pipeline owns every fabric component plus the goroutine groups that
// drive data through them.
type Pipeline struct {
	settings *conf.Settings

	pool        *corefabric.Pool
	bufferMgr   *corefabric.BufferManager
	sm          *corefabric.StateMachine
	coordinator *corefabric.Coordinator
	monitor     *corefabric.Monitor

	source *AudioSource
	rings  map[string]*ringbuffer.RingBuffer

	storageMgr *storage.Manager
	healthSampler *health.Sampler
	recovery   *recoverydb.DB
	session    string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

const componentName = "pipeline"

// New constructs the full fabric and pipeline wiring from settings, but
// does not start any goroutines.
func New(settings *conf.Settings) (*Pipeline, error) {
	session := loadOrCreateSession(settings.Main.WorkingDir)

	pool := corefabric.NewPool(settings.Pool.Small, settings.Pool.Medium, settings.Pool.Large,
		time.Duration(settings.Pool.AllocTimeoutMS)*time.Millisecond)
	bufferMgr := corefabric.NewBufferManager(settings.Queue.Capture, settings.Queue.Processing, settings.Queue.Storage)
	sm := corefabric.NewStateMachine(256)
	coordinator := corefabric.NewCoordinator(pool, sm, time.Duration(settings.Component.ThreadTimeoutMS)*time.Millisecond)
	monitor := corefabric.NewMonitor(pool, bufferMgr, coordinator, sm, 1024)

	recoveryDir := filepath.Join(settings.Main.WorkingDir, "logs", "recovery")
	if err := os.MkdirAll(recoveryDir, 0o755); err != nil {
		return nil, duoerrors.FileError(err, recoveryDir, 0)
	}
	recDB, err := recoverydb.Open(filepath.Join(recoveryDir, fmt.Sprintf("%s.db", session)))
	if err != nil {
		return nil, err
	}

	policy := storage.Policy{
		BytesThresholdPct: settings.Flush.BytesThresholdPct,
		AgeMS:             settings.Flush.AgeMS,
		MaxRetries:        settings.Flush.MaxRetries,
	}
	storageMgr, err := storage.NewManager(settings.Main.WorkingDir, session, corefabric.MediumBufferSize*8, policy, monitor)
	if err != nil {
		return nil, err
	}

	sampler, err := health.NewSampler(pool, health.Thresholds{
		SoftBytes:      uint64(settings.Pool.SoftMiB) << 20,
		HardBytes:      uint64(settings.Pool.HardMiB) << 20,
		EmergencyBytes: uint64(settings.Pool.EmergencyMiB) << 20,
	}, 2*time.Second)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		settings:      settings,
		pool:          pool,
		bufferMgr:     bufferMgr,
		sm:            sm,
		coordinator:   coordinator,
		monitor:       monitor,
		source:        NewAudioSource(settings.Capture.SampleRate),
		rings:         map[string]*ringbuffer.RingBuffer{"left": ringbuffer.New(stagingRingSize), "right": ringbuffer.New(stagingRingSize)},
		storageMgr:    storageMgr,
		healthSampler: sampler,
		recovery:      recDB,
		session:       session,
	}

	monitor.OnCritical(p.handleCritical)
	coordinator.OnThreadTimeout(p.handleThreadTimeout)

	if _, err := coordinator.Register(componentName, "pipeline", nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Telemetry exposes the fabric and storage handles the telemetry bridge
// needs to build its Prometheus collector, without leaking them as
// general-purpose public fields on Pipeline.
func (p *Pipeline) Telemetry() (*corefabric.Pool, *corefabric.BufferManager, *corefabric.Monitor, *storage.Manager) {
	return p.pool, p.bufferMgr, p.monitor, p.storageMgr
}

// Run brings the pipeline through INITIALIZING -> IDLE -> RUNNING, starts
// every goroutine group, and blocks until ctx is cancelled or a critical
// error cancels the run, at which point it records the shutdown in the
// recovery log, drives a full cleanup run (C6) and returns the §6 exit code.
func (p *Pipeline) Run(ctx context.Context) int {
	if err := p.sm.Transition(componentName, corefabric.StateInitializing, "startup"); err != nil {
		return 2
	}
	if err := p.sm.Transition(componentName, corefabric.StateIdle, "init_complete"); err != nil {
		return 2
	}
	if err := p.sm.Transition(componentName, corefabric.StateRunning, "run_requested"); err != nil {
		return 2
	}
	p.monitor.StartMonitoring()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.healthSampler.Run(runCtx) }()

	for _, ch := range []string{"left", "right"} {
		p.wg.Add(1)
		go p.captureLoop(runCtx, ch)
	}

	workers := cpuid.CPU.LogicalCores
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.processingWorker(runCtx)
	}

	for _, ch := range []string{"left", "right"} {
		p.wg.Add(1)
		go p.storageWriter(runCtx, ch)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Duration(p.settings.Component.ThreadTimeoutMS) * time.Millisecond / 3)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.coordinator.CheckHeartbeats()
			}
		}
	}()

	<-runCtx.Done()
	p.monitor.StopMonitoring()
	cancel()
	p.wg.Wait()

	// Every producer/consumer goroutine has now exited, so it is safe to
	// drain whatever is still resident in the capture/processing/storage
	// queues on this goroutine alone (§5: queues drain capture -> storage
	// before C6 runs). bufferMgr.Shutdown() is deferred to C6's
	// stop_capture step, which runs after this drain, so the Put calls
	// below never race a queue already marked down.
	p.drainQueues()

	// The fixed transition graph only admits INITIATING_CLEANUP from IDLE
	// or ERROR (§4.2), so every shutdown path - clean or not - first lands
	// in ERROR before the cleanup coordinator takes over.
	if p.sm.Current(componentName) != corefabric.StateError {
		_ = p.sm.Transition(componentName, corefabric.StateError, "shutdown_requested")
	}
	p.recordRecoveryEvent(componentName, p.sm.Current(componentName).String(),
		corefabric.StateInitiatingCleanup.String(), "shutdown_requested", "info")
	return p.runCleanup()
}

func (p *Pipeline) handleCritical(report corefabric.ErrorReport) {
	p.recordRecoveryEvent(report.Component, p.sm.Current(componentName).String(), "ERROR", report.Kind, "critical")
	_ = p.sm.Transition(componentName, corefabric.StateError, "critical_error")
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) handleThreadTimeout(component string, tid corefabric.ThreadID) {
	p.recordRecoveryEvent(component, "RUNNING", "ERROR", "thread_heartbeat_timeout", "critical")
}

func (p *Pipeline) recordRecoveryEvent(component, from, to, cause, severity string) {
	event := recoverydb.RecoveryEvent{
		Session: p.session, Component: component, FromState: from, ToState: to,
		Cause: cause, Severity: severity, Timestamp: time.Now(),
	}
	_ = p.recovery.Record(event)
	appendRecoveryJSONL(p.settings.Main.WorkingDir, p.session, event)
}

func appendRecoveryJSONL(workingDir, session string, event recoverydb.RecoveryEvent) {
	path := filepath.Join(workingDir, "logs", "recovery", session+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Error("pipeline: failed to append recovery log", "error", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(map[string]any{
		"ts": event.Timestamp, "session": session, "component": event.Component,
		"from_state": event.FromState, "to_state": event.ToState,
		"cause": event.Cause, "severity": event.Severity,
	})
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

func loadOrCreateSession(workingDir string) string {
	path := filepath.Join(workingDir, conf.SessionFileName)
	if data, err := os.ReadFile(path); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}

// saveSession persists the session id on clean shutdown, per §6.
func (p *Pipeline) saveSession() {
	path := filepath.Join(p.settings.Main.WorkingDir, conf.SessionFileName)
	_ = os.WriteFile(path, []byte(p.session), 0o644)
}
