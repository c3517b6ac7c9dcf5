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

package main

import (
	"context"
	"fmt"

	"github.com/corvusdb/corvus/pkg/fileservice/fscache"
	"github.com/corvusdb/corvus/pkg/storage/buffer"
)

// demoBuffer is the simplest possible Buffer: a fixed-size byte slice.
type demoBuffer struct {
	bytes []byte
}

func (b demoBuffer) AllocSize() int64 { return int64(len(b.bytes)) }

func (b demoBuffer) Bytes() []byte  { return b.bytes }
func (b demoBuffer) Size() int64    { return int64(len(b.bytes)) }
func (b demoBuffer) Release()       {}

// synthLoader stands in for a real on-disk block store. When the buffer
// pool unloads a BlockHandle, the bytes are gone from the pool's own
// accounting; synthLoader's job is to demonstrate where a real
// collaborator would reach for them instead of paying a full re-fetch:
// first the second-level cache, and only on a miss does it regenerate
// the block from scratch.
type synthLoader struct {
	key   fscache.CacheKey
	size  int64
	cache fscache.DataCache
}

func newSynthLoader(cache fscache.DataCache, path string, size int64) *synthLoader {
	return &synthLoader{
		key:   fscache.CacheKey{Path: path, Offset: 0, Sz: size},
		size:  size,
		cache: cache,
	}
}

func (l *synthLoader) Reload() (buffer.Buffer, error) {
	ctx := context.Background()
	if data, ok := l.cache.Get(ctx, l.key); ok {
		defer data.Release()
		buf := make([]byte, len(data.Bytes()))
		copy(buf, data.Bytes())
		return demoBuffer{bytes: buf}, nil
	}

	buf := make([]byte, l.size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := l.cache.Set(ctx, l.key, demoBuffer{bytes: buf}); err != nil {
		return nil, fmt.Errorf("populate second-level cache: %w", err)
	}
	return demoBuffer{bytes: buf}, nil
}
