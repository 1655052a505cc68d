package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tinyclue/duocapture/internal/conf"
	"github.com/tinyclue/duocapture/internal/corefabric"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the gopsutil process sampler and ringbuffer internals spin up
		// background goroutines that settle asynchronously after Close.
		goleak.IgnoreTopFunction("github.com/shirou/gopsutil/v3/process.(*Process).percent"),
	)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := conf.DefaultSettings()
	s.Main.WorkingDir = t.TempDir()
	s.Pool.Small, s.Pool.Medium, s.Pool.Large = 8, 8, 8
	s.Queue.Capture, s.Queue.Processing, s.Queue.Storage = 8, 8, 8
	s.Component.ThreadTimeoutMS = 300
	s.Flush.AgeMS = 50
	s.Flush.IdleMS = 50
	s.Capture.SampleRate = 8000
	return s
}

// TestPipeline_CleanShutdownUnderLoad approximates S1: the pipeline runs
// the full capture -> process -> store path for a short window under a
// live context, then a clean cancellation must drive it to
// CLEANUP_COMPLETED (exit code 0) with at least one flushed WAV file per
// channel and a recovery log on disk.
func TestPipeline_CleanShutdownUnderLoad(t *testing.T) {
	settings := testSettings(t)
	p, err := New(settings)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	code := p.Run(ctx)
	require.Equal(t, 0, code)

	for _, channel := range []string{"left", "right"} {
		dir := filepath.Join(settings.Main.WorkingDir, "recordings", p.session, channel)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries, "expected at least one flushed recording for channel %s", channel)
	}

	recoveryLog := filepath.Join(settings.Main.WorkingDir, "logs", "recovery", p.session+".jsonl")
	_, err = os.Stat(recoveryLog)
	require.NoError(t, err)
}

// TestPipeline_CriticalErrorDrivesCleanup checks that a reported critical
// error cancels the run context and routes through ERROR into the cleanup
// coordinator the same as a clean shutdown (the fixed transition graph
// admits INITIATING_CLEANUP only from IDLE or ERROR), so Run returns with
// exit code 0 or 3 instead of hanging.
func TestPipeline_CriticalErrorDrivesCleanup(t *testing.T) {
	settings := testSettings(t)
	p, err := New(settings)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	p.handleCritical(corefabric.ErrorReport{
		Component: "pipeline-storage", Severity: corefabric.SeverityCritical, Kind: "flush_failed",
	})

	select {
	case code := <-done:
		require.Contains(t, []int{0, 3}, code)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after critical error")
	}
}
