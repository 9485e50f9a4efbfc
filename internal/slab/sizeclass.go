// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package slab

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// DefaultSizeClasses mirrors the source's cache_sizes[] table: a small
// fixed ladder of block sizes, biased towards the packet and control
// message sizes this runtime actually pushes through the reactor.
var DefaultSizeClasses = []int{32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384}

// SizeClassCache dispatches allocation requests to one Pool per size
// class, picking the smallest class that satisfies the request via binary
// search, matching __mm_alloc's size_to_index.
type SizeClassCache struct {
	mu      sync.Mutex
	sizes   []int
	pools   []*Pool
	hasFree *roaring.Bitmap // classes with at least one free block, updated best-effort
}

// NewSizeClassCache builds a cache over sizes (sorted ascending), each
// pre-carving initPerClass blocks and allowed to grow dynamically past
// that.
func NewSizeClassCache(sizes []int, initPerClass int) *SizeClassCache {
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	c := &SizeClassCache{
		sizes:   sorted,
		pools:   make([]*Pool, len(sorted)),
		hasFree: roaring.New(),
	}
	for i, sz := range sorted {
		c.pools[i] = New(sz, initPerClass, false)
		if initPerClass > 0 {
			c.hasFree.Add(uint32(i))
		}
	}
	return c
}

// classFor returns the index of the smallest class >= size, or -1 if size
// exceeds every class (the caller should fall back to a raw allocation).
func (c *SizeClassCache) classFor(size int) int {
	idx := sort.SearchInts(c.sizes, size)
	if idx == len(c.sizes) {
		return -1
	}
	return idx
}

// Alloc returns the owning pool and a block of at least size bytes. Sizes
// larger than the largest class fall back to a dedicated, unpooled
// allocation whose "pool" is nil — callers must check for that before
// calling Pool.Free directly (BufferPool.release already handles it).
func (c *SizeClassCache) Alloc(size int) (*Pool, []byte) {
	idx := c.classFor(size)
	if idx < 0 {
		return nil, make([]byte, size)
	}

	pool := c.pools[idx]
	block := pool.Alloc()

	c.mu.Lock()
	if _, _, used := pool.Stats(); used >= 0 {
		// best-effort freshness; exact membership isn't safety-critical,
		// it only feeds the debug/introspection surface.
		if count, u, _ := pool.Stats(); u >= count {
			c.hasFree.Remove(uint32(idx))
		} else {
			c.hasFree.Add(uint32(idx))
		}
	}
	c.mu.Unlock()

	return pool, block
}

// ClassesWithFreeBlocks returns the size-class indices that had a free
// block as of the last Alloc observation, for the debug server.
func (c *SizeClassCache) ClassesWithFreeBlocks() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0, c.hasFree.GetCardinality())
	it := c.hasFree.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Sizes returns the configured class ladder.
func (c *SizeClassCache) Sizes() []int {
	return append([]int(nil), c.sizes...)
}
