package pipeline

import (
	"github.com/tinyclue/duocapture/internal/corefabric"
	"github.com/tinyclue/duocapture/internal/logging"
)

// runCleanup builds and executes the C6 cleanup run for the pipeline
// component, wiring each fixed phase to the concrete teardown work this
// pipeline needs: stop accepting new capture frames, flush storage, drop
// the pool's free lists and verify every allocated buffer was released,
// then persist the session id and close the recovery index. It returns the
// §6 process exit code.
func (p *Pipeline) runCleanup() int {
	cc := corefabric.NewCleanupCoordinator(componentName, p.sm, p.monitor)

	cc.RegisterStep(corefabric.CleanupStep{
		Name:  "stop_capture",
		Phase: corefabric.StateStoppingCapture,
		Handler: func() error {
			p.bufferMgr.Shutdown()
			return nil
		},
		Verifier: func() error { return nil },
	})

	cc.RegisterStep(corefabric.CleanupStep{
		Name:      "flush_storage",
		Phase:     corefabric.StateFlushingStorage,
		DependsOn: []string{"stop_capture"},
		Handler:   func() error { return p.storageMgr.FlushAll() },
		Verifier:  func() error { return nil },
	})

	cc.RegisterStep(corefabric.CleanupStep{
		Name:      "release_resources",
		Phase:     corefabric.StateReleasingResources,
		DependsOn: []string{"flush_storage"},
		Handler: func() error {
			p.pool.CleanupStage(corefabric.CleanupHard)
			return nil
		},
		Verifier: func() error {
			stats := p.pool.Stats()
			if stats.Allocations-stats.Releases != uint64(stats.Leaked) {
				return corefabric.ErrInvariantViolated
			}
			return nil
		},
	})

	cc.RegisterStep(corefabric.CleanupStep{
		Name:      "close_logs",
		Phase:     corefabric.StateClosingLogs,
		DependsOn: []string{"release_resources"},
		Handler: func() error {
			p.saveSession()
			return p.recovery.Close()
		},
		Verifier: func() error { return nil },
	})

	if err := cc.Run(); err != nil {
		logging.Error("pipeline: cleanup run failed", "error", err)
		return 3
	}
	return 0
}
