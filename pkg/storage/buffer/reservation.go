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

// Reservation is a scoped charge against a BufferPool's budget.
// Construction charges size bytes under tag; Release discharges them.
// Go has no destructors, so callers are responsible for calling
// Release exactly once (typically via defer) instead of relying on
// scope exit. Reservation never fails at construction: it relies on
// the caller having first passed EvictBlocks.
type Reservation struct {
	pool     *BufferPool
	tag      MemoryTag
	size     int64
	released bool
}

// newReservation charges size bytes under tag and returns the handle
// that will release them.
func newReservation(pool *BufferPool, tag MemoryTag, size int64) *Reservation {
	pool.IncreaseUsedMemory(tag, size)
	return &Reservation{pool: pool, tag: tag, size: size}
}

// Resize applies the delta between the reservation's current size and
// newSize atomically against the pool. Resize(0) is equivalent to
// Release but leaves the reservation object reusable via a further
// Resize to a positive size.
func (r *Reservation) Resize(newSize int64) {
	if r == nil || r.released {
		return
	}
	delta := newSize - r.size
	switch {
	case delta > 0:
		r.pool.IncreaseUsedMemory(r.tag, delta)
	case delta < 0:
		r.pool.DecreaseUsedMemory(r.tag, -delta)
	}
	r.size = newSize
}

// Release discharges whatever is currently reserved. Safe to call
// more than once; only the first call has an effect.
func (r *Reservation) Release() {
	if r == nil || r.released {
		return
	}
	r.pool.DecreaseUsedMemory(r.tag, r.size)
	r.size = 0
	r.released = true
}

// Move transfers the reservation to a new owner: the returned
// Reservation takes over r's charge, and r itself becomes a no-op on
// any further Resize/Release/Move, modeling the source's "moved-from"
// state. Reservations are never copyable; Move is the only way to
// transfer one.
func (r *Reservation) Move() *Reservation {
	if r == nil || r.released {
		return nil
	}
	moved := &Reservation{pool: r.pool, tag: r.tag, size: r.size}
	r.released = true
	r.size = 0
	return moved
}

// Size reports the reservation's currently charged byte count.
func (r *Reservation) Size() int64 {
	if r == nil {
		return 0
	}
	return r.size
}
