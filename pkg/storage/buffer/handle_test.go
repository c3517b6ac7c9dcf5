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
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBuffer is the minimal Buffer a test needs: a fixed byte size and
// nothing else, matching the spec's "only AllocSize is observable"
// out-of-scope boundary for concrete block storage.
type fakeBuffer struct{ size int64 }

func (b fakeBuffer) AllocSize() int64 { return b.size }

func newTestPool(t *testing.T, maxMemory int64) *BufferPool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaximumMemory = maxMemory
	p, err := NewBufferPool(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func newResidentHandle(pool *BufferPool, tag MemoryTag, size int64) *BlockHandle {
	return NewBlockHandle(pool, tag, fakeBuffer{size: size}, nil)
}

func TestBlockHandlePinUnpinCanUnload(t *testing.T) {
	pool := newTestPool(t, 10000)
	h := newResidentHandle(pool, TagBaseTable, 100)
	pool.IncreaseUsedMemory(TagBaseTable, 100)

	require.True(t, h.CanUnload(), "freshly constructed, unpinned handle should be unloadable")

	buf, err := h.Pin()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.EqualValues(t, 1, h.Readers())
	require.False(t, h.CanUnload(), "pinned handle must not be unloadable")

	h.Unpin()
	require.EqualValues(t, 0, h.Readers())
}

func TestBlockHandleUnloadDischargesMemory(t *testing.T) {
	pool := newTestPool(t, 10000)
	h := newResidentHandle(pool, TagBaseTable, 256)
	pool.IncreaseUsedMemory(TagBaseTable, 256)

	require.EqualValues(t, 256, pool.GetUsedMemory())

	h.Lock()
	require.True(t, h.CanUnload())
	h.Unload()
	h.Unlock()

	require.EqualValues(t, 0, pool.GetUsedMemory())
	require.EqualValues(t, 0, h.AllocSize())
}

func TestEvictionNodeTombstoneOnNewerEnqueue(t *testing.T) {
	pool := newTestPool(t, 10000)
	h := newResidentHandle(pool, TagBaseTable, 64)
	pool.IncreaseUsedMemory(TagBaseTable, 64)

	stale := newEvictionNode(h, h.EvictionTimestamp())
	h.bumpEvictionTimestamp()

	require.False(t, stale.CanUnload(h), "node timestamp is behind handle's current timestamp")
	require.Nil(t, stale.TryGetBlockHandle())
}

func TestEvictionNodeDeadAfterHandleCollected(t *testing.T) {
	pool := newTestPool(t, 10000)
	h := newResidentHandle(pool, TagBaseTable, 64)
	node := newEvictionNode(h, h.EvictionTimestamp())
	h = nil
	_ = h

	// The weak reference may or may not have been collected yet at
	// this point since Go's GC is not forced here; TryGetBlockHandle
	// must simply never panic either way.
	_ = node.TryGetBlockHandle()
}
