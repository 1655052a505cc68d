package storage

import (
	"github.com/tinyclue/duocapture/internal/corefabric"
)

// Manager owns one ChannelWriter per channel and is the storage stage's
// entry point from the pipeline wiring layer.
type Manager struct {
	writers map[string]*ChannelWriter
}

// NewManager builds channel writers for "left" and "right" rooted at
// workingDir/recordings/<session>.
func NewManager(workingDir, session string, capacityBytes int, policy Policy, monitor *corefabric.Monitor) (*Manager, error) {
	m := &Manager{writers: make(map[string]*ChannelWriter, 2)}
	for _, ch := range []string{"left", "right"} {
		w, err := NewChannelWriter(workingDir, session, ch, capacityBytes, policy, monitor)
		if err != nil {
			return nil, err
		}
		m.writers[ch] = w
	}
	return m, nil
}

// Writer returns the ChannelWriter for "left" or "right".
func (m *Manager) Writer(channel string) *ChannelWriter {
	return m.writers[channel]
}

// Stats returns a snapshot of every channel writer's counters, keyed by
// channel name, for the telemetry bridge.
func (m *Manager) Stats() map[string]Stats {
	out := make(map[string]Stats, len(m.writers))
	for ch, w := range m.writers {
		out[ch] = w.Stats()
	}
	return out
}

// FlushAll flushes every channel's pending buffer, used on shutdown to
// guarantee the storage stage drains before C6 completes RELEASING_RESOURCES.
func (m *Manager) FlushAll() error {
	var first error
	for _, w := range m.writers {
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
