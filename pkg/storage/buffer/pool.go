// Copyright 2022 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buffer is a bounded-memory, concurrent page cache: it keeps
// resident blocks in RAM up to a configurable budget and evicts cold
// ones under pressure, tracking usage across a small closed set of
// memory tags. The pool itself never touches disk; concrete block
// storage is a collaborator that satisfies the Buffer/Loader
// contracts in handle.go.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"

	"github.com/corvusdb/corvus/pkg/common/moerr"
	"github.com/corvusdb/corvus/pkg/logutil"
	"github.com/corvusdb/corvus/pkg/storage/tae/common"
	"github.com/corvusdb/corvus/pkg/util/fault"
)

const (
	faultEvictBlocksStall = "buffer.evictblocks.stall"
	faultPurgeQueueSkip   = "buffer.purgequeue.skip"

	closeTimeout = 5 * time.Second
)

// EvictionResult is the return value of EvictBlocks: whether the pool
// reached memory_limit, and the reservation that was (or was not, on
// failure) charged against it.
type EvictionResult struct {
	Success     bool
	Reservation *Reservation
}

// BufferPool owns the eviction queue, the global and per-tag memory
// counters, the purge state machine, and the eviction loop. It is
// meant to be constructed once per database instance and passed by
// explicit reference to every component that needs it; there is no
// package-level singleton.
type BufferPool struct {
	cfg Config

	currentMemory atomic.Int64
	maximumMemory atomic.Int64

	memoryUsagePerTag [MemoryTagCount]atomic.Int64

	queue *EvictionQueue

	evictQueueInsertions atomic.Int64
	totalDeadNodes       atomic.Int64

	purgeActive atomic.Bool
	limitLock   sync.Mutex

	// purgeNodes is scratch space reused across purge passes. It is
	// touched only by whichever goroutine currently holds purgeActive,
	// so it needs no lock of its own.
	purgeNodes []EvictionNode

	temporaryMemoryManager *TemporaryMemoryManager

	purgePool *ants.Pool
}

// newPurgePool is a seam over ants.NewPool so tests can stub worker
// pool construction failures without needing to actually exhaust
// system resources.
var newPurgePool = ants.NewPool

// NewBufferPool constructs a pool with the given maximum memory and
// tuning constants. The temporary memory manager is created against
// this same pool, so its allocations are gated by the same budget.
func NewBufferPool(cfg Config) (*BufferPool, error) {
	cfg.fillDefaults()

	purgePool, err := newPurgePool(cfg.PurgeWorkers, ants.WithPanicHandler(func(v interface{}) {
		logutil.GetGlobalLogger().Error("buffer pool purge worker panicked", common.ExceptionField(v))
	}))
	if err != nil {
		return nil, err
	}

	p := &BufferPool{
		cfg:       cfg,
		queue:     newEvictionQueue(cfg.QueueShards),
		purgePool: purgePool,
	}
	p.maximumMemory.Store(cfg.MaximumMemory)

	tmm, err := newTemporaryMemoryManager(p, "buffer-pool-temporary")
	if err != nil {
		purgePool.Release()
		return nil, err
	}
	p.temporaryMemoryManager = tmm

	return p, nil
}

// Close releases the background purge worker pool. It does not evict
// or free any resident block; callers that need a clean shutdown must
// do that themselves first.
func (p *BufferPool) Close() error {
	var errs *multierror.Error
	if p.purgePool != nil {
		if err := p.purgePool.ReleaseTimeout(closeTimeout); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// IncreaseUsedMemory atomically adds size to current_memory and to
// memory_usage_per_tag[tag]. It never fails and never blocks; callers
// are responsible for having reserved the budget via EvictBlocks
// first.
func (p *BufferPool) IncreaseUsedMemory(tag MemoryTag, size int64) {
	p.currentMemory.Add(size)
	p.memoryUsagePerTag[tag].Add(size)
}

// DecreaseUsedMemory is the symmetric counterpart of
// IncreaseUsedMemory. It must never drive a counter negative; callers
// are expected to only ever discharge what they previously charged.
func (p *BufferPool) DecreaseUsedMemory(tag MemoryTag, size int64) {
	p.currentMemory.Add(-size)
	p.memoryUsagePerTag[tag].Add(-size)
}

// GetUsedMemory returns current_memory.
func (p *BufferPool) GetUsedMemory() int64 { return p.currentMemory.Load() }

// GetMaxMemory returns maximum_memory.
func (p *BufferPool) GetMaxMemory() int64 { return p.maximumMemory.Load() }

// GetQueryMaxMemory caps a single query's working set. The source
// returns GetMaxMemory unconditionally, with no reserved headroom;
// preserved here (see DESIGN.md's Open Question decisions).
func (p *BufferPool) GetQueryMaxMemory() int64 { return p.GetMaxMemory() }

// GetTemporaryMemoryManager returns the pool's owned sub-allocator for
// transient per-query memory.
func (p *BufferPool) GetTemporaryMemoryManager() *TemporaryMemoryManager {
	return p.temporaryMemoryManager
}

// MemoryUsageByTag returns a snapshot of memory_usage_per_tag, mostly
// useful for tests and diagnostics.
func (p *BufferPool) MemoryUsageByTag() [MemoryTagCount]int64 {
	var out [MemoryTagCount]int64
	for i := range out {
		out[i] = p.memoryUsagePerTag[i].Load()
	}
	return out
}

// addToEvictionQueue enqueues a fresh Eviction Node for handle, called
// with handle.readers == 0 and either handle's lock held or handle
// still private (BlockHandle.Unpin, or a caller converting a freshly
// constructed handle to persistent). It reports whether the caller
// should invoke PurgeQueue.
func (p *BufferPool) addToEvictionQueue(handle *BlockHandle) bool {
	ts := handle.bumpEvictionTimestamp()
	p.queue.enqueue(newEvictionNode(handle, ts))

	if ts != 1 {
		// a newer enqueue kills exactly one prior version
		p.totalDeadNodes.Add(1)
	}

	return p.evictQueueInsertions.Add(1) >= p.cfg.InsertInterval
}

// dispatchPurge runs PurgeQueue through the background worker pool
// instead of spawning an unbounded goroutine per insertion burst. If
// the pool cannot accept the task right now, it falls back to running
// the purge inline: a skipped purge only costs tuning drift, never
// correctness, but it should not happen silently.
func (p *BufferPool) dispatchPurge() {
	if err := p.purgePool.Submit(p.PurgeQueue); err != nil {
		logutil.GetGlobalLogger().Warn("buffer pool purge dispatch fell back to inline", common.ReasonField(err.Error()))
		p.PurgeQueue()
	}
}

// EvictBlocks attempts to bring current_memory down to memoryLimit
// while reserving extraMemory for the caller under tag. If outBuffer
// is non-nil and a dequeued handle's resident buffer is exactly
// extraMemory bytes, that buffer is handed back directly instead of
// being freed and reallocated.
func (p *BufferPool) EvictBlocks(tag MemoryTag, extraMemory int64, memoryLimit int64, outBuffer *Buffer) EvictionResult {
	res := newReservation(p, tag, extraMemory)

	for p.GetUsedMemory() > memoryLimit {
		// a concurrency test may register a SLEEP fault here to widen
		// the race windows this loop must still be correct under.
		_, _, _ = fault.TriggerFault(faultEvictBlocksStall)

		node, ok := p.queue.tryDequeue()
		if !ok {
			node, ok = p.tryDequeueWithoutConcurrentPurge()
			if !ok {
				res.Resize(0)
				return EvictionResult{Success: false, Reservation: res}
			}
		}
		p.evictQueueInsertions.Add(-1)

		handle := node.TryGetBlockHandle()
		if handle == nil {
			p.totalDeadNodes.Add(-1)
			continue
		}

		handle.Lock()
		if !node.CanUnload(handle) {
			p.totalDeadNodes.Add(-1)
			handle.Unlock()
			continue
		}

		if outBuffer != nil && handle.allocSizeLocked() == extraMemory {
			*outBuffer = handle.UnloadAndTakeBlock()
			handle.Unlock()
			return EvictionResult{Success: true, Reservation: res}
		}

		handle.Unload()
		handle.Unlock()
	}

	return EvictionResult{Success: true, Reservation: res}
}

// tryDequeueWithoutConcurrentPurge resolves the race where the queue
// is full of tombstones a concurrent purge is busy filtering. It
// spins on a CAS of purgeActive from false to true to become the
// unique queue mutator, dequeues once, then releases purgeActive.
// This is a mutual-exclusion handshake layered on the MPMC queue, used
// only when the regular fast path fails.
func (p *BufferPool) tryDequeueWithoutConcurrentPurge() (EvictionNode, bool) {
	for !p.purgeActive.CompareAndSwap(false, true) {
	}
	node, ok := p.queue.tryDequeue()
	p.purgeActive.Store(false)
	return node, ok
}

// PurgeQueue is the background scavenger. Only one goroutine may run
// it at a time; all others early-out immediately via the purgeActive
// CAS.
func (p *BufferPool) PurgeQueue() {
	for {
		if p.purgeActive.Load() {
			return
		}
		if p.purgeActive.CompareAndSwap(false, true) {
			break
		}
	}

	if _, _, exist := fault.TriggerFault(faultPurgeQueueSkip); exist {
		p.purgeActive.Store(false)
		return
	}

	queueInsertions := p.evictQueueInsertions.Add(-p.cfg.InsertInterval) + p.cfg.InsertInterval
	purgeSize := queueInsertions * p.cfg.PurgeSizeMultiplier
	if purgeSize <= 0 {
		p.purgeActive.Store(false)
		return
	}

	approxQSize := p.queue.sizeApprox()
	if approxQSize < purgeSize*p.cfg.EarlyOutMultiplier {
		p.purgeActive.Store(false)
		return
	}

	maxPurges := approxQSize / purgeSize
	for maxPurges != 0 {
		p.purgeIteration(purgeSize)

		approxQSize = p.queue.sizeApprox()
		if approxQSize < purgeSize*p.cfg.EarlyOutMultiplier {
			p.purgeActive.Store(false)
			return
		}

		approxDeadNodes := p.totalDeadNodes.Load()
		if approxDeadNodes > approxQSize {
			approxDeadNodes = approxQSize
		}
		approxAliveNodes := approxQSize - approxDeadNodes

		if approxAliveNodes*(p.cfg.AliveNodeMultiplier-1) > approxDeadNodes {
			p.purgeActive.Store(false)
			return
		}

		maxPurges--
	}

	p.purgeActive.Store(false)
}

// purgeIteration bulk-dequeues up to purgeSize nodes, drops the dead
// ones, and bulk-enqueues the survivors at the tail. Re-enqueued
// nodes lose their LRU position; the alternative would be an in-place
// filter, which the sharded queue does not support.
func (p *BufferPool) purgeIteration(purgeSize int64) {
	previous := int64(len(p.purgeNodes))
	if purgeSize < previous/2 || purgeSize > previous {
		p.purgeNodes = make([]EvictionNode, purgeSize)
	}

	actuallyDequeued := p.queue.tryDequeueBulk(p.purgeNodes[:purgeSize])

	aliveNodes := 0
	for i := 0; i < actuallyDequeued; i++ {
		node := p.purgeNodes[i]
		if node.TryGetBlockHandle() != nil {
			p.purgeNodes[aliveNodes] = node
			aliveNodes++
		}
	}

	p.queue.enqueueBulk(p.purgeNodes[:aliveNodes])

	logutil.GetGlobalLogger().Debug("buffer pool purge iteration",
		common.CountField(actuallyDequeued), common.OperationField("purge"))

	p.totalDeadNodes.Add(-int64(actuallyDequeued - aliveNodes))
}

// SetLimit changes maximum_memory to limit, serialised by limitLock.
// It evicts down to the new limit both before and after committing
// the change, so an allocator that raced the change and only saw the
// old, looser limit does not leave the pool permanently over budget.
// On failure, only maximum_memory is rolled back; current_memory and
// the per-tag counters are left exactly as EvictBlocks left them (see
// DESIGN.md's Open Question decisions).
func (p *BufferPool) SetLimit(ctx context.Context, limit int64, messageSuffix string) error {
	p.limitLock.Lock()
	defer p.limitLock.Unlock()

	first := p.EvictBlocks(TagExtension, 0, limit, nil)
	if !first.Success {
		return moerr.NewMemoryLimitError(ctx, limit, messageSuffix)
	}
	first.Reservation.Release()

	oldLimit := p.maximumMemory.Load()
	p.maximumMemory.Store(limit)

	second := p.EvictBlocks(TagExtension, 0, limit, nil)
	if !second.Success {
		p.maximumMemory.Store(oldLimit)
		return moerr.NewMemoryLimitError(ctx, limit, messageSuffix)
	}
	second.Reservation.Release()

	return nil
}
