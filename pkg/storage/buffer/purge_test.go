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
	"errors"
	"testing"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/require"
)

// NewBufferPool must surface a worker pool construction failure rather
// than silently falling back to something else.
func TestNewBufferPoolPropagatesPurgePoolError(t *testing.T) {
	wantErr := errors.New("no file descriptors left")
	stub := gostub.StubFunc(&newPurgePool, nil, wantErr)
	defer stub.Reset()

	_, err := NewBufferPool(DefaultConfig())
	require.ErrorIs(t, err, wantErr)
}

// Scenario 4: purge preserves alive nodes, drops dead ones, and brings
// the queue's approximate size back down close to the alive count.
func TestPurgeQueueDropsDeadNodesKeepsAlive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaximumMemory = 1_000_000
	cfg.QueueShards = 8
	cfg.InsertInterval = 1
	cfg.PurgeSizeMultiplier = 1
	cfg.EarlyOutMultiplier = 1
	cfg.AliveNodeMultiplier = 1

	pool, err := NewBufferPool(cfg)
	require.NoError(t, err)
	defer pool.Close()

	const aliveCount = 10_000
	const churnCount = 8_000

	alive := make([]*BlockHandle, aliveCount)
	for i := range alive {
		alive[i] = allocate(pool, TagBaseTable, 1)
		pool.addToEvictionQueue(alive[i])
	}

	// Re-enqueuing the first churnCount handles tombstones their
	// earlier queue entries: each re-enqueue bumps the timestamp, so
	// the stale copy already in the queue becomes dead.
	for i := 0; i < churnCount; i++ {
		pool.addToEvictionQueue(alive[i])
	}

	deadBefore := pool.totalDeadNodes.Load()
	require.GreaterOrEqual(t, deadBefore, int64(churnCount))

	sizeBefore := pool.queue.sizeApprox()
	require.EqualValues(t, aliveCount+churnCount, sizeBefore)

	pool.PurgeQueue()

	sizeAfter := pool.queue.sizeApprox()
	require.Less(t, sizeAfter, sizeBefore, "purge must shrink the queue")

	// Every originally-alive handle must still be resolvable and
	// unloadable: none of them may have been mistaken for dead.
	drained := 0
	for {
		node, ok := pool.queue.tryDequeue()
		if !ok {
			break
		}
		if h := node.TryGetBlockHandle(); h != nil {
			drained++
		}
	}
	require.GreaterOrEqual(t, drained, aliveCount)
}
