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
	"testing"

	"github.com/stretchr/testify/require"
)

// allocate mirrors how an external loader would bring a new handle
// into the pool: reserve the budget first via EvictBlocks, then charge
// it for real once the block is materialised.
func allocate(pool *BufferPool, tag MemoryTag, size int64) *BlockHandle {
	pool.EvictBlocks(tag, size, pool.GetMaxMemory(), nil).Reservation.Release()
	pool.IncreaseUsedMemory(tag, size)
	return newResidentHandle(pool, tag, size)
}

// Scenario 1: simple eviction.
func TestEvictBlocksSimpleEviction(t *testing.T) {
	pool := newTestPool(t, 1000)

	h1 := allocate(pool, TagBaseTable, 400)
	pool.addToEvictionQueue(h1)

	h2 := allocate(pool, TagBaseTable, 400)
	pool.addToEvictionQueue(h2)

	require.EqualValues(t, 800, pool.GetUsedMemory())

	result := pool.EvictBlocks(TagBaseTable, 400, 1000, nil)
	require.True(t, result.Success)
	require.EqualValues(t, 800, pool.GetUsedMemory())

	require.True(t, h1.unloaded || h2.unloaded, "one of the two prior handles must have been unloaded")
	require.False(t, h1.unloaded && h2.unloaded, "only one should have been unloaded")
}

// Scenario 2: recycle fast path.
func TestEvictBlocksRecycleFastPath(t *testing.T) {
	pool := newTestPool(t, 10000)

	h := allocate(pool, TagBaseTable, 512)
	pool.addToEvictionQueue(h)

	var out Buffer
	result := pool.EvictBlocks(TagBaseTable, 512, 0, &out)
	require.True(t, result.Success)
	require.NotNil(t, out)
	require.EqualValues(t, 512, out.AllocSize())
	require.True(t, h.unloaded)
}

// Scenario 3: tombstone skipping.
func TestEvictBlocksSkipsTombstone(t *testing.T) {
	pool := newTestPool(t, 10000)

	h := allocate(pool, TagBaseTable, 100)
	pool.addToEvictionQueue(h) // ts=1, enqueued

	// pin then unpin: bumps eviction_timestamp to 2 and enqueues again
	_, err := h.Pin()
	require.NoError(t, err)
	h.Unpin() // enqueues ts=2; the ts=1 node in the queue is now a tombstone

	deadBefore := pool.totalDeadNodes.Load()
	require.GreaterOrEqual(t, deadBefore, int64(1))

	result := pool.EvictBlocks(TagBaseTable, 0, 0, nil)
	require.True(t, result.Success)
	require.True(t, h.unloaded)
}

// Scenario 5: SetLimit rollback.
func TestSetLimitRollbackOnFailure(t *testing.T) {
	pool := newTestPool(t, 1000)

	h := allocate(pool, TagBaseTable, 900)
	_, err := h.Pin() // pinned: not evictable
	require.NoError(t, err)

	require.EqualValues(t, 900, pool.GetUsedMemory())

	err = pool.SetLimit(context.Background(), 500, "")
	require.Error(t, err)
	require.EqualValues(t, 1000, pool.GetMaxMemory())
	require.EqualValues(t, 900, pool.GetUsedMemory())

	h.Unpin()
}

func TestSetLimitSucceedsWhenEvictable(t *testing.T) {
	pool := newTestPool(t, 1000)

	h := allocate(pool, TagBaseTable, 900)
	pool.addToEvictionQueue(h)

	err := pool.SetLimit(context.Background(), 500, "")
	require.NoError(t, err)
	require.EqualValues(t, 500, pool.GetMaxMemory())
}

// P1: current_memory always equals the sum of per-tag counters.
func TestMemoryAccountingSumsAcrossTags(t *testing.T) {
	pool := newTestPool(t, 100000)

	allocate(pool, TagBaseTable, 100)
	allocate(pool, TagIndex, 200)
	allocate(pool, TagTemporary, 50)

	var sum int64
	for _, v := range pool.MemoryUsageByTag() {
		sum += v
	}
	require.Equal(t, pool.GetUsedMemory(), sum)
}

// P2: a pinned handle is never unloaded by EvictBlocks.
func TestEvictBlocksNeverUnloadsPinnedHandle(t *testing.T) {
	pool := newTestPool(t, 100)

	h := allocate(pool, TagBaseTable, 100)
	_, err := h.Pin()
	require.NoError(t, err)

	result := pool.EvictBlocks(TagBaseTable, 0, 0, nil)
	require.False(t, result.Success, "nothing evictable: the only handle is pinned")
	require.False(t, h.unloaded)

	h.Unpin()
}

// L3: creating and immediately releasing a reservation is a no-op on
// the pool's counters.
func TestReservationRoundTripIsNoOp(t *testing.T) {
	pool := newTestPool(t, 100000)

	before := pool.GetUsedMemory()
	r := newReservation(pool, TagTemporary, 4096)
	require.Equal(t, before+4096, pool.GetUsedMemory())
	r.Release()
	require.Equal(t, before, pool.GetUsedMemory())
}

func TestReservationResizeAndMove(t *testing.T) {
	pool := newTestPool(t, 100000)

	r := newReservation(pool, TagTemporary, 100)
	require.EqualValues(t, 100, pool.memoryUsagePerTag[TagTemporary].Load())

	r.Resize(300)
	require.EqualValues(t, 300, pool.memoryUsagePerTag[TagTemporary].Load())

	moved := r.Move()
	require.EqualValues(t, 300, pool.memoryUsagePerTag[TagTemporary].Load())

	// r is now a no-op
	r.Resize(999)
	require.EqualValues(t, 300, pool.memoryUsagePerTag[TagTemporary].Load())

	moved.Release()
	require.EqualValues(t, 0, pool.memoryUsagePerTag[TagTemporary].Load())
}
