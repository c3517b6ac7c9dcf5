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

package buffer

import (
	"sync"
	"sync/atomic"
)

// Buffer is the owning reference to a Block Handle's resident memory
// region. Concrete block storage (disk I/O, compression, file format)
// is out of scope; collaborators supply their own Buffer
// implementation and only need to report AllocSize.
type Buffer interface {
	AllocSize() int64
}

// Loader is supplied by an external collaborator to materialise a
// block back into memory after it has been unloaded. The buffer pool
// itself never calls Reload; it is here so a BlockHandle can be
// constructed with everything it needs to round-trip through Unload
// without the pool knowing anything about disk formats.
type Loader interface {
	Reload() (Buffer, error)
}

// BlockHandle owns a resident block's memory and pin count. Every
// field but buffer/unloaded is safe for concurrent access; buffer and
// unloaded are protected by mu, per the "mutated under its own lock"
// invariant.
type BlockHandle struct {
	tag     MemoryTag
	pool    *BufferPool
	loader  Loader
	readers atomic.Int32

	// eviction_timestamp is only ever incremented while the owner
	// holds mu or while the handle is not yet shared (construction).
	// Never decremented, never reset.
	evictionTimestamp atomic.Uint64

	mu       sync.Mutex
	buffer   Buffer
	unloaded bool
}

// NewBlockHandle wraps an already-resident buffer. It does not charge
// the pool: the caller charges the buffer's AllocSize against tag with
// IncreaseUsedMemory, having reserved that budget via EvictBlocks
// first, matching IncreaseUsedMemory's contract.
func NewBlockHandle(pool *BufferPool, tag MemoryTag, buf Buffer, loader Loader) *BlockHandle {
	h := &BlockHandle{
		tag:    tag,
		pool:   pool,
		loader: loader,
		buffer: buf,
	}
	return h
}

// Readers reports the current pin count.
func (h *BlockHandle) Readers() int32 { return h.readers.Load() }

// EvictionTimestamp reports the handle's current enqueue timestamp.
func (h *BlockHandle) EvictionTimestamp() uint64 { return h.evictionTimestamp.Load() }

// bumpEvictionTimestamp fetch-and-increments the timestamp, returning
// the new value. Called only from AddToEvictionQueue, which already
// documents the locking precondition.
func (h *BlockHandle) bumpEvictionTimestamp() uint64 { return h.evictionTimestamp.Add(1) }

// Pin increments the pin count and returns the buffer, reloading it
// through loader first if it is currently unloaded.
func (h *BlockHandle) Pin() (Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		if h.loader == nil {
			h.readers.Add(1)
			return nil, nil
		}
		buf, err := h.loader.Reload()
		if err != nil {
			return nil, err
		}
		h.buffer = buf
		h.unloaded = false
		h.pool.IncreaseUsedMemory(h.tag, buf.AllocSize())
	}
	h.readers.Add(1)
	return h.buffer, nil
}

// Unpin decrements the pin count. When it reaches zero the handle
// becomes eligible for eviction and is re-enqueued. If the pool
// signals that a purge is due, Unpin dispatches it in the background.
func (h *BlockHandle) Unpin() {
	h.mu.Lock()
	if h.readers.Add(-1) != 0 {
		h.mu.Unlock()
		return
	}
	purge := h.pool.addToEvictionQueue(h)
	h.mu.Unlock()
	if purge {
		h.pool.dispatchPurge()
	}
}

// CanUnload self-reports whether the handle is presently eligible for
// eviction. Must be called with mu held by the caller (EvictBlocks,
// PurgeIteration's alive-check excepted, which only resolves the weak
// reference and re-checks this under lock before acting).
func (h *BlockHandle) CanUnload() bool {
	return h.readers.Load() == 0 && !h.unloaded
}

// Unload releases the handle's resident memory back to the pool.
// Caller must hold h.mu and must have already confirmed CanUnload().
func (h *BlockHandle) Unload() {
	if h.unloaded || h.buffer == nil {
		return
	}
	size := h.buffer.AllocSize()
	h.buffer = nil
	h.unloaded = true
	h.pool.DecreaseUsedMemory(h.tag, size)
}

// UnloadAndTakeBlock releases the handle's memory, discharges the
// pool's accounting for it exactly as Unload would, and hands the
// buffer to the caller for direct reuse instead of letting it be
// freed. The caller's own reservation (for the same byte count, by
// the recycle-size precondition) is what re-charges the pool for the
// buffer's continued residency, so this still nets out to a single
// charge rather than one for the old block and one for the new.
// Caller must hold h.mu and must have already confirmed CanUnload()
// and the recycle size match.
func (h *BlockHandle) UnloadAndTakeBlock() Buffer {
	buf := h.buffer
	if buf != nil {
		h.pool.DecreaseUsedMemory(h.tag, buf.AllocSize())
	}
	h.buffer = nil
	h.unloaded = true
	return buf
}

// AllocSize returns the resident buffer's byte size, or 0 when unloaded.
func (h *BlockHandle) AllocSize() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocSizeLocked()
}

// allocSizeLocked is AllocSize for a caller that already holds mu,
// used by EvictBlocks' recycle-size check so it doesn't re-lock.
func (h *BlockHandle) allocSizeLocked() int64 {
	if h.buffer == nil {
		return 0
	}
	return h.buffer.AllocSize()
}

// Lock and Unlock expose the handle's own mutex directly to the
// eviction path (EvictBlocks, PurgeIteration's caller), matching the
// spec's "lock: per-handle mutex" attribute.
func (h *BlockHandle) Lock()   { h.mu.Lock() }
func (h *BlockHandle) Unlock() { h.mu.Unlock() }
