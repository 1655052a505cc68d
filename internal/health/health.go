// Package health periodically samples process RSS and drives the resource
// pool's staged cleanup thresholds (soft/hard/emergency), resolving the
// open question in SPEC_FULL.md in favor of fixed MiB thresholds checked
// against live RSS rather than a percentage of total system RAM.
package health

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tinyclue/duocapture/internal/corefabric"
	"github.com/tinyclue/duocapture/internal/logging"
)

// Thresholds are the RSS levels (in bytes) that trigger each cleanup
// stage progression.
type Thresholds struct {
	SoftBytes      uint64
	HardBytes      uint64
	EmergencyBytes uint64
}

// Sampler polls the current process's RSS on an interval and advances a
// Pool's cleanup stage when a threshold is crossed.
type Sampler struct {
	pool       *corefabric.Pool
	thresholds Thresholds
	interval   time.Duration
	proc       *process.Process
}

// NewSampler builds a sampler for the current process.
func NewSampler(pool *corefabric.Pool, thresholds Thresholds, interval time.Duration) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{pool: pool, thresholds: thresholds, interval: interval, proc: proc}, nil
}

// Run polls until ctx is cancelled, advancing the pool's cleanup stage
// whenever RSS crosses a configured threshold. Progression is monotonic
// (enforced by Pool.CleanupStage); a transient dip in RSS does not revert
// an already-entered stage.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mem, err := s.proc.MemInfoWithContext(ctx)
			if err != nil {
				logging.Warn("health: failed to read process memory info", "error", err)
				continue
			}
			s.reactTo(mem.RSS)
		}
	}
}

func (s *Sampler) reactTo(rss uint64) {
	switch {
	case rss >= s.thresholds.EmergencyBytes:
		s.pool.CleanupStage(corefabric.CleanupEmergency)
	case rss >= s.thresholds.HardBytes:
		s.pool.CleanupStage(corefabric.CleanupHard)
	case rss >= s.thresholds.SoftBytes:
		s.pool.CleanupStage(corefabric.CleanupSoft)
	}
}
