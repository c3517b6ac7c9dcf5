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

import "weak"

// EvictionNode is a weak back-reference to a BlockHandle plus the
// timestamp it was enqueued at. It is a value type: trivially
// copyable, and never extends the handle's lifetime.
type EvictionNode struct {
	handle    weak.Pointer[BlockHandle]
	timestamp uint64
}

// newEvictionNode builds a node for handle at its current eviction
// timestamp ts.
func newEvictionNode(handle *BlockHandle, ts uint64) EvictionNode {
	return EvictionNode{handle: weak.Make(handle), timestamp: ts}
}

// CanUnload reports whether this node is still the latest enqueue of
// handle, and whether handle itself currently permits eviction. The
// timestamp check is the sole liveness oracle: a node survives it only
// if no newer enqueue of the same handle has happened since.
func (n EvictionNode) CanUnload(handle *BlockHandle) bool {
	if n.timestamp != handle.EvictionTimestamp() {
		return false
	}
	return handle.CanUnload()
}

// TryGetBlockHandle upgrades the weak reference to a strong one,
// returning nil unless the handle still exists and CanUnload reports
// true. This is only a quick pre-check: the caller must still
// re-verify CanUnload under handle.Lock before acting, since the
// handle may change state between this call and acquiring the lock.
func (n EvictionNode) TryGetBlockHandle() *BlockHandle {
	h := n.handle.Value()
	if h == nil {
		return nil
	}
	if !n.CanUnload(h) {
		return nil
	}
	return h
}
