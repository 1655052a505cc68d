// Package corefabric implements the concurrency, resource, and state fabric
// shared by every stage of the capture pipeline: the tiered buffer pool
// (C1), the component state machine (C2), the per-channel buffer manager
// (C3), the component coordinator (C4), and the monitoring coordinator
// (C5).
package corefabric

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	duoerrors "github.com/tinyclue/duocapture/internal/errors"
)

// Buffer is an owned byte region issued by the Pool. A Buffer is exclusively
// held by one stage at a time; the zero value is never valid outside the
// pool's own bookkeeping.
type Buffer struct {
	Data []byte
	Tier BufferTier

	pool     *Pool
	id       uint64
	used     int
	released atomic.Bool
}

// Len returns the number of meaningful bytes currently written into the
// buffer (as opposed to its tier capacity).
func (b *Buffer) Len() int { return b.used }

// SetLen records how many bytes of Data are meaningful. Callers must not
// exceed cap(b.Data).
func (b *Buffer) SetLen(n int) { b.used = n }

// Release returns the buffer to its tier's LIFO stack. Calling Release twice
// on the same buffer reports ErrAlreadyReleased without corrupting the
// stack.
func (b *Buffer) Release() error {
	if b.pool == nil {
		return duoerrors.New(ErrUnknownBuffer).Component("resource-pool").
			Category(duoerrors.CategoryResourcePool).Build()
	}
	return b.pool.release(b)
}

// tierState holds the LIFO free stack and bookkeeping for a single tier.
type tierState struct {
	mu        sync.Mutex
	free      []*Buffer
	outstanding map[uint64]*Buffer
	capacity  int // tier_max: maximum number of buffers ever allocated for this tier
	created   int
	allocations uint64
	releases    uint64
	highWater   int
}

// Pool is the C1 tiered resource pool: three independently locked tiers
// (small/medium/large) plus a pool-wide state lock. Lock order is
// pool_state < tier, matching §4.1.
type Pool struct {
	stateMu sync.Mutex
	stage   CleanupStage

	tiers [3]*tierState

	allocTimeout time.Duration
	nextID       atomic.Uint64

	leaked atomic.Int64
}

// NewPool builds a resource pool with the given per-tier caps and
// allocation timeout. A cap of 0 means "unbounded" (new buffers are always
// created on a stack miss).
func NewPool(capSmall, capMedium, capLarge int, allocTimeout time.Duration) *Pool {
	p := &Pool{allocTimeout: allocTimeout}
	p.tiers[TierSmall] = &tierState{capacity: capSmall, outstanding: make(map[uint64]*Buffer)}
	p.tiers[TierMedium] = &tierState{capacity: capMedium, outstanding: make(map[uint64]*Buffer)}
	p.tiers[TierLarge] = &tierState{capacity: capLarge, outstanding: make(map[uint64]*Buffer)}
	return p
}

func tierFor(size int) (BufferTier, int, error) {
	switch {
	case size <= SmallBufferSize:
		return TierSmall, SmallBufferSize, nil
	case size <= MediumBufferSize:
		return TierMedium, MediumBufferSize, nil
	case size <= LargeBufferSize:
		return TierLarge, LargeBufferSize, nil
	default:
		return 0, 0, duoerrors.New(ErrInvalidTierSize).Component("resource-pool").
			Category(duoerrors.CategoryResourcePool).Context("requested_size", size).Build()
	}
}

// Allocate chooses the smallest tier that fits size, pops a free buffer off
// its LIFO stack, or creates a new one up to tier_max. If the tier is
// already at capacity, Allocate waits for up to the pool's allocation
// timeout for a release before failing with PoolExhausted. Once the pool
// is in the EMERGENCY cleanup stage it fails with PoolExhausted at once.
func (p *Pool) Allocate(size int) (*Buffer, error) {
	tier, tierSize, err := tierFor(size)
	if err != nil {
		return nil, err
	}

	p.stateMu.Lock()
	stage := p.stage
	p.stateMu.Unlock()
	if stage == CleanupEmergency {
		return nil, duoerrors.ResourcePoolError(ErrPoolExhausted, tier.String())
	}

	ts := p.tiers[tier]
	deadline := time.Now().Add(p.allocTimeout)

	for {
		ts.mu.Lock()
		if n := len(ts.free); n > 0 {
			b := ts.free[n-1]
			ts.free = ts.free[:n-1]
			b.released.Store(false)
			b.used = 0
			ts.outstanding[b.id] = b
			ts.allocations++
			if inUse := ts.created - len(ts.free); inUse > ts.highWater {
				ts.highWater = inUse
			}
			ts.mu.Unlock()
			return b, nil
		}
		if ts.capacity == 0 || ts.created < ts.capacity {
			id := p.nextID.Add(1)
			b := &Buffer{Data: make([]byte, tierSize), Tier: tier, pool: p, id: id}
			ts.created++
			ts.outstanding[id] = b
			ts.allocations++
			if ts.created > ts.highWater {
				ts.highWater = ts.created
			}
			ts.mu.Unlock()
			runtime.SetFinalizer(b, finalizeLeakedBuffer)
			return b, nil
		}
		ts.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, duoerrors.New(ErrPoolExhausted).Component("resource-pool").
				Category(duoerrors.CategoryResourcePool).Context("tier", tier.String()).Build()
		}
		time.Sleep(time.Millisecond)
	}
}

// finalizeLeakedBuffer runs if a Buffer is garbage-collected without ever
// being released, recording it in the pool's leak counter.
func finalizeLeakedBuffer(b *Buffer) {
	if b.pool != nil && !b.released.Load() {
		b.pool.leaked.Add(1)
		b.pool.tiers[b.Tier].mu.Lock()
		delete(b.pool.tiers[b.Tier].outstanding, b.id)
		b.pool.tiers[b.Tier].mu.Unlock()
	}
}

func (p *Pool) release(b *Buffer) error {
	if !b.released.CompareAndSwap(false, true) {
		return duoerrors.New(ErrAlreadyReleased).Component("resource-pool").
			Category(duoerrors.CategoryResourcePool).
			Context("tier", b.Tier.String()).Build()
	}

	ts := p.tiers[b.Tier]
	ts.mu.Lock()
	if _, ok := ts.outstanding[b.id]; !ok {
		ts.mu.Unlock()
		b.released.Store(false)
		return duoerrors.New(ErrUnknownBuffer).Component("resource-pool").
			Category(duoerrors.CategoryResourcePool).Build()
	}
	delete(ts.outstanding, b.id)
	b.used = 0
	ts.releases++
	ts.free = append(ts.free, b)
	ts.mu.Unlock()
	runtime.SetFinalizer(b, nil)
	return nil
}

// TierStats is the per-tier snapshot returned by Stats.
type TierStats struct {
	Capacity   int
	InUse      int
	Free       int
	HighWater  int
	Allocations uint64
	Releases    uint64
}

// Stats returns the C1 observability surface: per-tier occupancy plus
// pool-wide allocation/release/leak counters.
type Stats struct {
	PerTier     [3]TierStats
	Allocations uint64
	Releases    uint64
	Leaked      int64
}

func (p *Pool) Stats() Stats {
	var s Stats
	for i, ts := range p.tiers {
		ts.mu.Lock()
		s.PerTier[i] = TierStats{
			Capacity:    ts.capacity,
			InUse:       len(ts.outstanding),
			Free:        len(ts.free),
			HighWater:   ts.highWater,
			Allocations: ts.allocations,
			Releases:    ts.releases,
		}
		s.Allocations += ts.allocations
		s.Releases += ts.releases
		ts.mu.Unlock()
	}
	s.Leaked = p.leaked.Load()
	return s
}

// CleanupStage transitions the pool through the staged-cleanup progression
// described in §4.1: GC reclaims nothing new (free lists already hold
// returned buffers), SOFT drops half of each tier's free list, HARD drops
// all free lists, EMERGENCY additionally refuses every further allocation
// while buffers already in use stay valid until they are released.
// Progression is monotonic: calling with an
// earlier stage than the current one is a no-op.
func (p *Pool) CleanupStage(stage CleanupStage) bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if stage < p.stage {
		return false
	}
	p.stage = stage

	switch stage {
	case CleanupSoft:
		for _, ts := range p.tiers {
			ts.mu.Lock()
			half := len(ts.free) / 2
			ts.free = ts.free[half:]
			ts.mu.Unlock()
		}
	case CleanupHard, CleanupEmergency:
		for _, ts := range p.tiers {
			ts.mu.Lock()
			ts.free = nil
			ts.mu.Unlock()
		}
	}
	return true
}

// Stage reports the pool's current cleanup stage.
func (p *Pool) Stage() CleanupStage {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.stage
}
