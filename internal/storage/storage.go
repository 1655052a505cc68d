// Package storage implements the C7 storage manager: bounded per-channel
// write buffers, time-and-size-triggered flushing, CRC-32C integrity
// sidecars, and emergency backup routing on persistent flush failure.
package storage

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tinyclue/duocapture/internal/corefabric"
	duoerrors "github.com/tinyclue/duocapture/internal/errors"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// FlushState is the per-channel writer's own small state machine (§4.7):
// IDLE -> FLUSHING_BUFFERS -> IDLE.
type FlushState int32

const (
	FlushIdle FlushState = iota
	FlushFlushing
)

// Policy holds the flush trigger thresholds from §4.7.
type Policy struct {
	BytesThresholdPct float64
	AgeMS             int
	IdleMS            int
	MaxRetries        int
}

// pendingEntry is one buffer accumulated in a channel's write buffer,
// awaiting flush.
type pendingEntry struct {
	buf      *corefabric.Buffer
	arrived  time.Time
}

// ChannelWriter owns the bounded write buffer, sequence counter, and
// flush loop for a single channel.
type ChannelWriter struct {
	mu       sync.Mutex
	channel  string
	sessionDir string
	emergencyDir string

	capacityBytes int
	policy        Policy

	pending     []pendingEntry
	pendingBytes int

	seq    uint64
	state  atomic.Int32

	flushes   atomic.Uint64
	noops     atomic.Uint64
	emergency atomic.Uint64
	failures  atomic.Uint64

	monitor *corefabric.Monitor
}

// Stats is the per-channel observability surface consumed by the
// telemetry bridge: counts of completed flushes, B4 no-ops, batches
// routed to emergency backup, and persistent failures, plus the last
// sequence number written and the bytes currently pending.
type Stats struct {
	Channel        string
	Sequence       uint64
	PendingBytes   int
	Flushes        uint64
	Noops          uint64
	EmergencyRoutes uint64
	Failures       uint64
}

// Stats returns a snapshot of this writer's counters.
func (w *ChannelWriter) Stats() Stats {
	w.mu.Lock()
	seq, pending := w.seq, w.pendingBytes
	w.mu.Unlock()
	return Stats{
		Channel:         w.channel,
		Sequence:        seq,
		PendingBytes:    pending,
		Flushes:         w.flushes.Load(),
		Noops:           w.noops.Load(),
		EmergencyRoutes: w.emergency.Load(),
		Failures:        w.failures.Load(),
	}
}

// NewChannelWriter builds a writer for one channel rooted at
// workingDir/recordings/<session>/<channel> with emergency fallback at
// workingDir/emergency_backup/<session>/<channel>.
func NewChannelWriter(workingDir, session, channel string, capacityBytes int, policy Policy, monitor *corefabric.Monitor) (*ChannelWriter, error) {
	sessionDir := filepath.Join(workingDir, "recordings", session, channel)
	emergencyDir := filepath.Join(workingDir, "emergency_backup", session, channel)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, duoerrors.FileError(err, sessionDir, 0)
	}

	return &ChannelWriter{
		channel:       channel,
		sessionDir:    sessionDir,
		emergencyDir:  emergencyDir,
		capacityBytes: capacityBytes,
		policy:        policy,
		monitor:       monitor,
	}, nil
}

// Append adds a captured buffer to the channel's write buffer and runs the
// flush-trigger evaluation. Ownership of buf passes to the writer; it is
// released back to the pool once its bytes have been flushed (or
// permanently failed into emergency backup).
func (w *ChannelWriter) Append(buf *corefabric.Buffer) error {
	w.mu.Lock()
	w.pending = append(w.pending, pendingEntry{buf: buf, arrived: time.Now()})
	w.pendingBytes += buf.Len()
	trigger := w.shouldFlushLocked()
	w.mu.Unlock()

	if trigger {
		return w.Flush()
	}
	return nil
}

func (w *ChannelWriter) shouldFlushLocked() bool {
	if len(w.pending) == 0 {
		return false
	}
	threshold := int(float64(w.capacityBytes) * w.policy.BytesThresholdPct)
	if w.pendingBytes >= threshold {
		return true
	}
	oldest := w.pending[0].arrived
	if time.Since(oldest) >= time.Duration(w.policy.AgeMS)*time.Millisecond {
		return true
	}
	return false
}

// IdleFlush is invoked by the pipeline wiring layer when the storage queue
// for this channel has been idle for idle_flush_ms; it flushes any pending
// bytes regardless of the byte/age thresholds.
func (w *ChannelWriter) IdleFlush() error {
	w.mu.Lock()
	has := len(w.pending) > 0
	w.mu.Unlock()
	if !has {
		return nil
	}
	return w.Flush()
}

// Flush writes the pending batch to a sequence-numbered .wav file with its
// CRC-32C .sum sidecar. A flush while already flushing is a no-op (B4).
// If the first attempt and policy.MaxRetries retries (with backoff doubling
// from 100ms) all fail, the batch is routed to emergency backup and a
// critical error is reported to the monitor.
func (w *ChannelWriter) Flush() error {
	if !w.state.CompareAndSwap(int32(FlushIdle), int32(FlushFlushing)) {
		w.noops.Add(1) // already flushing: no-op, not an error (B4)
		return nil
	}
	defer w.state.Store(int32(FlushIdle))

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.pendingBytes = 0
	seq := w.seq + 1
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	samples := flattenInt16(batch)

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= w.policy.MaxRetries; attempt++ {
		if err := writeWAVWithChecksum(filepath.Join(w.sessionDir, fmt.Sprintf("%d.wav", seq)), samples); err == nil {
			w.mu.Lock()
			w.seq = seq
			w.mu.Unlock()
			releaseAll(batch)
			w.flushes.Add(1)
			return nil
		} else if attempt == 0 || err != nil {
			lastErr = err
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	// Persistent failure: route to emergency backup.
	if err := os.MkdirAll(w.emergencyDir, 0o755); err == nil {
		if err := writeWAVWithChecksum(filepath.Join(w.emergencyDir, fmt.Sprintf("%d.wav", seq)), samples); err == nil {
			w.mu.Lock()
			w.seq = seq
			w.mu.Unlock()
			releaseAll(batch)
			w.emergency.Add(1)
			if w.monitor != nil {
				w.monitor.ReportError(corefabric.ErrorReport{
					Component: "storage-manager",
					Severity:  corefabric.SeverityCritical,
					Kind:      "flush_failed_recovered",
					Cause:     duoerrors.New(lastErr).Component("storage-manager").Category(duoerrors.CategoryStorage).Build(),
				})
			}
			return nil
		}
	}

	releaseAll(batch)
	w.failures.Add(1)
	if w.monitor != nil {
		w.monitor.ReportError(corefabric.ErrorReport{
			Component: "storage-manager",
			Severity:  corefabric.SeverityCritical,
			Kind:      "emergency_backup_failed",
			Cause:     duoerrors.New(lastErr).Component("storage-manager").Category(duoerrors.CategoryStorage).Build(),
		})
	}
	return duoerrors.New(lastErr).Component("storage-manager").Category(duoerrors.CategoryStorage).
		Context("channel", w.channel).Context("seq", seq).Build()
}

func releaseAll(batch []pendingEntry) {
	for _, e := range batch {
		_ = e.buf.Release()
	}
}

func flattenInt16(batch []pendingEntry) []int {
	total := 0
	for _, e := range batch {
		total += e.buf.Len() / 2
	}
	out := make([]int, 0, total)
	for _, e := range batch {
		data := e.buf.Data[:e.buf.Len()]
		for i := 0; i+1 < len(data); i += 2 {
			v := int16(uint16(data[i]) | uint16(data[i+1])<<8)
			out = append(out, int(v))
		}
	}
	return out
}

// writeWAVWithChecksum encodes samples as a mono 16-bit PCM WAV file at
// path, then writes path+".sum" containing the CRC-32C of the whole written
// file (WAV header included) as 8 hex chars plus a newline (§6, P8).
func writeWAVWithChecksum(path string, samples []int) error {
	f, err := os.Create(path)
	if err != nil {
		return duoerrors.FileError(err, path, 0)
	}

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{Data: samples, Format: &audio.Format{SampleRate: 16000, NumChannels: 1}, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return duoerrors.FileError(err, path, 0)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return duoerrors.FileError(err, path, 0)
	}
	if err := f.Close(); err != nil {
		return duoerrors.FileError(err, path, 0)
	}

	sum, err := checksumFile(path)
	if err != nil {
		return err
	}
	sumPath := path + ".sum"
	if err := os.WriteFile(sumPath, []byte(sum+"\n"), 0o644); err != nil {
		return duoerrors.FileError(err, sumPath, 0)
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", duoerrors.FileError(err, path, 0)
	}
	defer f.Close()

	h := crc32.New(crc32cTable)
	if _, err := io.Copy(h, f); err != nil {
		return "", duoerrors.FileError(err, path, 0)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum re-reads path and recomputes its CRC-32C, comparing
// against the sidecar written at path+".sum" (P8).
func VerifyChecksum(path string) (bool, error) {
	want, err := os.ReadFile(path + ".sum")
	if err != nil {
		return false, duoerrors.FileError(err, path+".sum", 0)
	}
	got, err := checksumFile(path)
	if err != nil {
		return false, err
	}
	return string(want) == got+"\n", nil
}
