// Copyright 2021 Matrix Origin
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

// Package mpool is the engine's general-purpose byte allocator. The
// buffer pool's temporary memory manager allocates through it: the buffer
// its Reserve hands out is an MPool allocation, not a raw make([]byte, ...)
// at the call site, so its accounting shows up next to every other
// consumer's in ReportMemUsage.
package mpool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/corvusdb/corvus/pkg/common/moerr"
)

// classPool is a typed object pool keyed by the size of T, shared across
// every T the caller happens to allocate through it. It exists so hot
// paths that allocate small fixed-shape structs repeatedly don't pay a
// heap allocation each time.
type classPool struct {
	pools sync.Map // size (uintptr) -> *sync.Pool
}

func newPool(maxSize int) *classPool {
	return &classPool{}
}

func poolFor[T any](cl *classPool) *sync.Pool {
	size := unsafe.Sizeof(*new(T))
	if v, ok := cl.pools.Load(size); ok {
		return v.(*sync.Pool)
	}
	sp := &sync.Pool{New: func() any { return new(T) }}
	actual, _ := cl.pools.LoadOrStore(size, sp)
	return actual.(*sync.Pool)
}

func alloc[T any](cl *classPool) *T {
	t := poolFor[T](cl).Get().(*T)
	var zero T
	*t = zero
	return t
}

func free[T any](cl *classPool, v *T) {
	poolFor[T](cl).Put(v)
}

// Stats tracks lifetime allocation activity for one MPool.
type Stats struct {
	HighWaterMark atomic.Int64
	NumAlloc      atomic.Int64
	NumFree       atomic.Int64
}

// MPool is a named, accounted byte allocator. Every buffer it hands out
// is zero-filled, matching what make([]byte, n) already guarantees, so
// callers never need to clear a buffer themselves before reuse.
type MPool struct {
	name   string
	curr   atomic.Int64
	stats  Stats
	detail atomic.Bool
	cl     *classPool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*MPool{}
)

func init() {
	registry["global"] = &MPool{name: "global", cl: newPool(0)}
}

// NewMPool creates a named pool and registers it for ReportMemUsage.
// minClass, maxClass and factor have no effect on allocation: Alloc,
// Free and Realloc always work on plain make'd slices.
func NewMPool(name string, minClass, maxClass, factor int) (*MPool, error) {
	if name == "" {
		return nil, moerr.NewInvalidArg(context.Background(), "mpool name", name)
	}
	m := &MPool{name: name, cl: newPool(maxClass)}
	registryMu.Lock()
	registry[name] = m
	registryMu.Unlock()
	return m, nil
}

// DeleteMPool removes m from the registry. It does not reclaim any bytes
// still held by live callers; that is the caller's responsibility.
func DeleteMPool(m *MPool) {
	registryMu.Lock()
	delete(registry, m.name)
	registryMu.Unlock()
}

func (m *MPool) bumpHighWater() {
	for {
		cur := m.curr.Load()
		hw := m.stats.HighWaterMark.Load()
		if cur <= hw {
			return
		}
		if m.stats.HighWaterMark.CompareAndSwap(hw, cur) {
			return
		}
	}
}

// Alloc returns a zero-filled buffer of exactly n bytes.
func (m *MPool) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, moerr.NewInvalidArg(context.Background(), "mpool alloc size", n)
	}
	buf := make([]byte, n)
	m.curr.Add(int64(n))
	m.stats.NumAlloc.Add(1)
	m.bumpHighWater()
	return buf, nil
}

// Free releases a buffer previously returned by Alloc or Realloc.
func (m *MPool) Free(buf []byte) {
	m.curr.Add(-int64(len(buf)))
	m.stats.NumFree.Add(1)
}

// Realloc grows or shrinks buf to newSize, preserving the overlapping
// prefix and zero-filling any newly added bytes. The old buffer is
// logically freed as part of the call.
func (m *MPool) Realloc(buf []byte, newSize int) ([]byte, error) {
	if newSize < 0 {
		return nil, moerr.NewInvalidArg(context.Background(), "mpool realloc size", newSize)
	}
	old := len(buf)
	next := make([]byte, newSize)
	copy(next, buf)
	m.curr.Add(int64(newSize - old))
	m.stats.NumAlloc.Add(1)
	m.stats.NumFree.Add(1)
	m.bumpHighWater()
	return next, nil
}

// CurrNB reports the net bytes currently outstanding from this pool.
func (m *MPool) CurrNB() int {
	return int(m.curr.Load())
}

func (m *MPool) Stats() *Stats {
	return &m.stats
}

// EnableDetailRecording sets the pool's detail flag. ReportMemUsage
// reports the same fields whether or not the flag is set.
func (m *MPool) EnableDetailRecording() {
	m.detail.Store(true)
}

type poolReport struct {
	Name          string `json:"name"`
	CurrBytes     int64  `json:"curr_bytes"`
	HighWaterMark int64  `json:"high_water_mark"`
	NumAlloc      int64  `json:"num_alloc"`
	NumFree       int64  `json:"num_free"`
}

// ReportMemUsage renders a JSON snapshot of every registered pool whose
// name matches filter, or every pool when filter is empty.
func ReportMemUsage(filter string) string {
	registryMu.Lock()
	reports := make([]poolReport, 0, len(registry))
	for name, m := range registry {
		if filter != "" && name != filter {
			continue
		}
		reports = append(reports, poolReport{
			Name:          name,
			CurrBytes:     m.curr.Load(),
			HighWaterMark: m.stats.HighWaterMark.Load(),
			NumAlloc:      m.stats.NumAlloc.Load(),
			NumFree:       m.stats.NumFree.Load(),
		})
	}
	registryMu.Unlock()
	out, err := json.Marshal(reports)
	if err != nil {
		return "[]"
	}
	return string(out)
}
