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
	"context"

	"github.com/corvusdb/corvus/pkg/common/moerr"
	"github.com/corvusdb/corvus/pkg/common/mpool"
)

// TemporaryMemoryManager is the sub-allocator for transient per-query
// memory (hash tables spilling intermediate state, sort buffers, and
// the like). It is gated by the same global budget as resident
// blocks: every allocation goes through EvictBlocks first, so
// temporary memory competes for eviction exactly like a base-table
// page would.
type TemporaryMemoryManager struct {
	pool *BufferPool
	mp   *mpool.MPool
}

func newTemporaryMemoryManager(pool *BufferPool, name string) (*TemporaryMemoryManager, error) {
	mp, err := mpool.NewMPool(name, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &TemporaryMemoryManager{pool: pool, mp: mp}, nil
}

// Reserve makes room for size bytes under TagTemporary (evicting
// resident blocks if the pool is at its limit) and returns a
// zero-filled buffer of that size plus the Reservation backing it.
// The caller must Release the reservation and Free the buffer, in
// either order, when done.
func (m *TemporaryMemoryManager) Reserve(ctx context.Context, size int) ([]byte, *Reservation, error) {
	limit := m.pool.GetQueryMaxMemory()
	result := m.pool.EvictBlocks(TagTemporary, int64(size), limit, nil)
	if !result.Success {
		return nil, nil, moerr.NewOOM(ctx)
	}
	buf, err := m.mp.Alloc(size)
	if err != nil {
		result.Reservation.Release()
		return nil, nil, err
	}
	return buf, result.Reservation, nil
}

// Release returns buf to the underlying allocator and discharges res.
func (m *TemporaryMemoryManager) Release(buf []byte, res *Reservation) {
	m.mp.Free(buf)
	res.Release()
}
