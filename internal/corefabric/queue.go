package corefabric

import (
	"sync"
	"time"

	duoerrors "github.com/tinyclue/duocapture/internal/errors"
)

// Stage identifies one of the three fixed pipeline stages a queue belongs
// to. Cross-queue operations always acquire locks in stage order
// (capture < processing < storage), then channel order (left < right).
type Stage int

const (
	StageCapture Stage = iota
	StageProcessing
	StageStorage
)

func (s Stage) String() string {
	switch s {
	case StageCapture:
		return "capture"
	case StageProcessing:
		return "processing"
	case StageStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Channel identifies which of the two audio channels a queue carries.
type Channel int

const (
	ChannelLeft Channel = iota
	ChannelRight
)

func (c Channel) String() string {
	if c == ChannelLeft {
		return "left"
	}
	return "right"
}

// Stages lists the three fixed pipeline stages in the order required by
// the buffer manager's lock-acquisition hierarchy (capture < processing <
// storage), for callers that need to range over all of them.
func Stages() []Stage { return []Stage{StageCapture, StageProcessing, StageStorage} }

// Channels lists the two fixed audio channels in the order required by
// the buffer manager's lock-acquisition hierarchy (left < right).
func Channels() []Channel { return []Channel{ChannelLeft, ChannelRight} }

// QueueMetrics is the observability surface for one (stage, channel) queue.
type QueueMetrics struct {
	Depth      int
	Overruns   uint64
	Underruns  uint64
	LatencyP50 time.Duration
	LatencyP95 time.Duration
}

// ChannelQueue is a single bounded FIFO of *Buffer for one (stage, channel)
// pair. It owns its own mutex and condvar; no external locking is needed
// for a single put/get, but callers touching multiple queues must respect
// the BufferManager's fixed acquisition order.
type ChannelQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []*Buffer
	capacity int
	shutdown bool

	overruns  uint64
	underruns uint64
	latencies []time.Duration // bounded ring of recent put-to-get latencies, for p50/p95
	enqTimes  []time.Time
}

func newChannelQueue(capacity int) *ChannelQueue {
	q := &ChannelQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put enqueues buf without blocking, applying drop-oldest overflow (the
// §3 policy) when the queue is full: the head is discarded and released,
// overruns increments, and buf is enqueued in its place. Drop-oldest is
// the only overflow policy, so timeout is not used.
func (q *ChannelQueue) Put(buf *Buffer, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return duoerrors.New(ErrQueueShutdown).Component("buffer-manager").
			Category(duoerrors.CategoryQueue).Build()
	}

	if len(q.items) >= q.capacity {
		// drop-oldest overflow policy (default, §3/§4.3)
		dropped := q.items[0]
		q.items = q.items[1:]
		q.enqTimes = q.enqTimes[1:]
		q.overruns++
		if dropped != nil {
			_ = dropped.Release()
		}
	}

	q.items = append(q.items, buf)
	q.enqTimes = append(q.enqTimes, time.Now())
	q.notEmpty.Signal()
	_ = timeout // drop-oldest means Put never actually blocks; timeout kept for API symmetry with Get
	return nil
}

// Get dequeues the oldest buffer, blocking up to timeout. On shutdown, Get
// continues to drain any remaining items and only then returns
// ErrQueueShutdown.
func (q *ChannelQueue) Get(timeout time.Duration) (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(q.items) == 0 {
		if q.shutdown {
			q.underruns++
			return nil, duoerrors.New(ErrQueueShutdown).Component("buffer-manager").
				Category(duoerrors.CategoryQueue).Build()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			q.underruns++
			return nil, duoerrors.New(ErrQueueEmpty).Component("buffer-manager").
				Category(duoerrors.CategoryQueue).Build()
		}
		waitOnCond(q.notEmpty, remaining)
	}

	buf := q.items[0]
	q.items = q.items[1:]
	enqAt := q.enqTimes[0]
	q.enqTimes = q.enqTimes[1:]

	lat := time.Since(enqAt)
	q.latencies = append(q.latencies, lat)
	if len(q.latencies) > 256 {
		q.latencies = q.latencies[1:]
	}
	q.notFull.Signal()
	return buf, nil
}

// Size returns the current queue depth.
func (q *ChannelQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shutdown marks the queue as draining; subsequent Puts fail immediately
// and Gets return ErrQueueShutdown once the backlog is drained.
func (q *ChannelQueue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Metrics returns a snapshot of depth, overrun/underrun counters, and
// p50/p95 put-to-get latency over the recent window.
func (q *ChannelQueue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := QueueMetrics{
		Depth:     len(q.items),
		Overruns:  q.overruns,
		Underruns: q.underruns,
	}
	if n := len(q.latencies); n > 0 {
		sorted := append([]time.Duration(nil), q.latencies...)
		insertionSortDurations(sorted)
		m.LatencyP50 = sorted[n/2]
		m.LatencyP95 = sorted[(n*95)/100]
	}
	return m
}

func insertionSortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		v := d[i]
		j := i - 1
		for j >= 0 && d[j] > v {
			d[j+1] = d[j]
			j--
		}
		d[j+1] = v
	}
}

// BufferManager is the C3 channel-aware buffer manager: bounded
// per-(stage, channel) queues between the capture, processing, and storage
// stages, plus a cleanup flag observed by all blocking waits.
type BufferManager struct {
	queues   map[Stage]map[Channel]*ChannelQueue
	shutdown bool
	mu       sync.Mutex
}

// NewBufferManager builds queues for all three stages and both channels
// using the given per-stage capacities.
func NewBufferManager(captureCap, processingCap, storageCap int) *BufferManager {
	bm := &BufferManager{queues: make(map[Stage]map[Channel]*ChannelQueue)}
	caps := map[Stage]int{StageCapture: captureCap, StageProcessing: processingCap, StageStorage: storageCap}
	for stage := StageCapture; stage <= StageStorage; stage++ {
		bm.queues[stage] = map[Channel]*ChannelQueue{
			ChannelLeft:  newChannelQueue(caps[stage]),
			ChannelRight: newChannelQueue(caps[stage]),
		}
	}
	return bm
}

// Queue returns the queue for a given (stage, channel) pair.
func (bm *BufferManager) Queue(stage Stage, channel Channel) *ChannelQueue {
	return bm.queues[stage][channel]
}

// Shutdown marks every queue as draining, in the fixed stage order
// (capture < processing < storage) required by §5's drain direction.
func (bm *BufferManager) Shutdown() {
	bm.mu.Lock()
	bm.shutdown = true
	bm.mu.Unlock()
	for stage := StageCapture; stage <= StageStorage; stage++ {
		for _, ch := range []Channel{ChannelLeft, ChannelRight} {
			bm.queues[stage][ch].Shutdown()
		}
	}
}

// ChannelSkew reports |depth(left) - depth(right)| for a stage, used by the
// monitor to emit the non-fatal channel-balance warning metric from §4.3.
func (bm *BufferManager) ChannelSkew(stage Stage) int {
	l := bm.queues[stage][ChannelLeft].Size()
	r := bm.queues[stage][ChannelRight].Size()
	if l > r {
		return l - r
	}
	return r - l
}
