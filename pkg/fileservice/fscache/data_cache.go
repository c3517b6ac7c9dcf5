// Copyright 2024 Matrix Origin
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

// Package fscache describes the contract an external block store uses to
// plug into the buffer pool as a collaborator: something that owns bytes
// on disk or over the network and wants its own in-memory cache evicted
// in concert with the pool's own budget, rather than independently of it.
package fscache

import "context"

// CapacityFunc reports the current byte budget of a DataCache. It is a
// func, not a constant, so the budget can follow a limit that changes at
// run time, such as BufferPool.GetMaxMemory after SetLimit.
type CapacityFunc func() int64

// ConstCapacity returns a CapacityFunc pinned to n, for tests and for
// collaborators with a fixed budget.
func ConstCapacity(n int64) CapacityFunc {
	return func() int64 { return n }
}

// CacheKey identifies a byte range of a stored object. It intentionally
// has no notion of a block handle or memory tag; those belong to the pool.
type CacheKey struct {
	Path   string
	Offset int64
	Sz     int64
}

// Data is a reference-counted view over cached bytes. Release must be
// called exactly once when the holder is done with the data, mirroring
// how a BlockHandle pins and unpins its backing buffer.
type Data interface {
	Bytes() []byte
	Size() int64
	Release()
}

// DataCache is implemented by a byte cache that can be asked about its
// budget: EnsureNBytes asks it to make room, Evict asks it to give bytes
// back, Flush asks it to let go of everything. The buffer pool itself
// does not call any of these.
type DataCache interface {
	EnsureNBytes(ctx context.Context, want int)
	Capacity() int64
	Used() int64
	Available() int64
	Get(ctx context.Context, key CacheKey) (Data, bool)
	Set(ctx context.Context, key CacheKey, value Data) error
	DeletePaths(ctx context.Context, paths []string)
	Flush(ctx context.Context)
	Evict(ctx context.Context, done chan int64)
}
