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

package fifocache

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"math"

	"github.com/corvusdb/corvus/pkg/fileservice/fscache"
)

// DataCache adapts the generic S3-FIFO Cache to the fscache.DataCache
// contract, so it can sit alongside the buffer pool as a second-level
// cache for bytes the pool itself has evicted.
type DataCache struct {
	fifo *Cache[fscache.CacheKey, fscache.Data]
}

func NewDataCache(
	capacity fscache.CapacityFunc,
	postSet func(ctx context.Context, key fscache.CacheKey, value fscache.Data, size int64),
	postGet func(ctx context.Context, key fscache.CacheKey, value fscache.Data, size int64),
	postEvict func(ctx context.Context, key fscache.CacheKey, value fscache.Data, size int64),
) *DataCache {
	return &DataCache{
		fifo: New(capacity, shardCacheKey, postSet, postGet, postEvict),
	}
}

var _ fscache.DataCache = (*DataCache)(nil)

var seed = maphash.MakeSeed()

func shardCacheKey(key fscache.CacheKey) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(key.Offset))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(key.Sz))
	data := append([]byte(key.Path), buf[:]...)
	return maphash.Bytes(seed, data)
}

// ShardInt is a keyShardFunc for caches keyed by a plain integer, used by
// benchmarks and by collaborators that don't need fscache.CacheKey.
func ShardInt[K ~int | ~int64 | ~uint64](key K) uint64 {
	return uint64(key)
}

func (d *DataCache) Available() int64 {
	d.fifo.mutex.Lock()
	defer d.fifo.mutex.Unlock()
	ret := d.fifo.capacity() - d.fifo.used()
	if ret < 0 {
		ret = 0
	}
	return ret
}

func (d *DataCache) Capacity() int64 {
	return d.fifo.capacity()
}

func (d *DataCache) DeletePaths(ctx context.Context, paths []string) {
	d.fifo.mutex.Lock()
	defer d.fifo.mutex.Unlock()
	pathSet := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		pathSet[p] = struct{}{}
	}
	for key, item := range d.fifo.htab {
		if _, ok := pathSet[key.Path]; ok {
			d.fifo.deleteItem(ctx, item)
		}
	}
}

func (d *DataCache) EnsureNBytes(ctx context.Context, want int) {
	d.fifo.ForceEvict(ctx, int64(want))
}

func (d *DataCache) Evict(ctx context.Context, done chan int64) {
	d.fifo.Evict(ctx, done, 0)
}

func (d *DataCache) Flush(ctx context.Context) {
	d.fifo.Evict(ctx, nil, math.MaxInt64)
}

func (d *DataCache) Get(ctx context.Context, key fscache.CacheKey) (fscache.Data, bool) {
	return d.fifo.Get(ctx, key)
}

func (d *DataCache) Set(ctx context.Context, key fscache.CacheKey, value fscache.Data) error {
	d.fifo.Set(ctx, key, value, value.Size())
	return nil
}

func (d *DataCache) Used() int64 {
	d.fifo.mutex.Lock()
	defer d.fifo.mutex.Unlock()
	return d.fifo.used()
}
