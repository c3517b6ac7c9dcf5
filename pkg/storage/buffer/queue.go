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
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// nodeQueue is a chunked, mutex-protected FIFO of EvictionNode. It is
// the fallback lane behind each shard's lock-free ring (ringshard.go),
// used only when the ring reports full or empty. The chunking scheme
// mirrors pkg/fileservice/fifocache's Queue[T]: a linked list of
// fixed-capacity parts recycled through a sync.Pool so steady-state
// traffic does not allocate.
type nodeQueue struct {
	mu   sync.Mutex
	head *nodePart
	tail *nodePart
	pool sync.Pool
	size int
}

type nodePart struct {
	values []EvictionNode
	next   *nodePart
}

const maxNodePartCapacity = 256

func newNodeQueue() *nodeQueue {
	q := &nodeQueue{
		pool: sync.Pool{
			New: func() any {
				return &nodePart{values: make([]EvictionNode, 0, maxNodePartCapacity)}
			},
		},
	}
	p := q.pool.Get().(*nodePart)
	q.head, q.tail = p, p
	return q
}

func (q *nodeQueue) empty() bool {
	return q.head == q.tail && len(q.head.values) == 0
}

func (p *nodePart) reset() {
	p.values = p.values[:0]
	p.next = nil
}

func (q *nodeQueue) enqueue(n EvictionNode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.head.values) >= maxNodePartCapacity {
		next := q.pool.Get().(*nodePart)
		next.reset()
		q.head.next = next
		q.head = next
	}
	q.head.values = append(q.head.values, n)
	q.size++
}

func (q *nodeQueue) dequeue() (EvictionNode, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.empty() {
		return EvictionNode{}, false
	}
	if len(q.tail.values) == 0 {
		if q.tail.next == nil {
			return EvictionNode{}, false
		}
		old := q.tail
		q.tail = q.tail.next
		q.pool.Put(old)
	}
	if len(q.tail.values) == 0 {
		return EvictionNode{}, false
	}
	var v EvictionNode
	v, q.tail.values = q.tail.values[0], q.tail.values[1:]
	q.size--
	return v, true
}

func (q *nodeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// EvictionQueue is an unbounded, lock-free-on-the-fast-path MPMC FIFO
// of EvictionNode, sharded by a per-call producer token so concurrent
// producers rarely contend with each other. No ordering between
// shards is guaranteed, and within a shard items that overflowed into
// the fallback lane are dequeued only once the ring lane is empty, so
// even per-shard order is not strict FIFO; the buffer pool already
// treats queue order as a hint rather than a contract.
type EvictionQueue struct {
	shards []*queueShard
}

func newEvictionQueue(shardCount int) *EvictionQueue {
	if shardCount < 1 {
		shardCount = 1
	}
	q := &EvictionQueue{shards: make([]*queueShard, shardCount)}
	for i := range q.shards {
		q.shards[i] = newQueueShard()
	}
	return q
}

var shardTokenPool = sync.Pool{New: func() any { return new(byte) }}

// pickShard hashes the address of a short-lived, pool-recycled token
// to approximate "hash of the inserting thread's identifier" in a
// language without a stable thread handle: each concurrent caller is
// very likely to be handed a distinct token address for the duration
// of its call, which is all the spread this needs.
func pickShard(nShards int) int {
	tok := shardTokenPool.Get().(*byte)
	defer shardTokenPool.Put(tok)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(uintptr(unsafe.Pointer(tok))))
	return int(xxhash.Sum64(buf[:]) % uint64(nShards))
}

func (q *EvictionQueue) enqueue(n EvictionNode) {
	q.shards[pickShard(len(q.shards))].enqueue(n)
}

func (q *EvictionQueue) enqueueBulk(nodes []EvictionNode) {
	for _, n := range nodes {
		q.enqueue(n)
	}
}

// tryDequeue returns false if every shard currently appears empty. It
// may spuriously fail under contention, matching the spec's
// try_dequeue contract.
func (q *EvictionQueue) tryDequeue() (EvictionNode, bool) {
	n := len(q.shards)
	start := pickShard(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if v, ok := q.shards[idx].dequeue(); ok {
			return v, true
		}
	}
	return EvictionNode{}, false
}

func (q *EvictionQueue) tryDequeueBulk(out []EvictionNode) int {
	count := 0
	for count < len(out) {
		v, ok := q.tryDequeue()
		if !ok {
			break
		}
		out[count] = v
		count++
	}
	return count
}

func (q *EvictionQueue) sizeApprox() int64 {
	var total int64
	for _, s := range q.shards {
		total += s.sizeApprox()
	}
	return total
}
