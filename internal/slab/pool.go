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

// Package slab implements the fixed-block pool ("mempool") and the
// reference-counted packet buffers drawn from it.
package slab

import (
	"sync"
	"unsafe"
)

// Pool is a fixed-block-size allocator with an optional pre-carved arena
// and a dynamically grown overflow, mirroring src/mempool.c.
type Pool struct {
	mu sync.Mutex

	blockSize int
	initCount int
	limited   bool

	arena    []byte
	freeList [][]byte // blocks carved from arena, currently free
	dynFree  [][]byte // dynamically allocated blocks, currently free

	count      int // blocks currently charged against this pool (arena plus live dynamic)
	used       int // blocks currently handed out
	dynamicUsed int // of which, dynamically allocated
}

// New creates a pool of blocks of blockSize bytes. If initCount > 0, a
// contiguous arena of initCount*blockSize bytes is pre-carved into the
// free list. If limited is true, the pool never grows past initCount
// blocks and Alloc returns nil instead of allocating dynamically.
func New(blockSize, initCount int, limited bool) *Pool {
	p := &Pool{
		blockSize: blockSize,
		initCount: initCount,
		limited:   limited,
		count:     initCount,
	}
	if initCount > 0 {
		p.arena = make([]byte, initCount*blockSize)
		p.freeList = make([][]byte, 0, initCount)
		for i := 0; i < initCount; i++ {
			p.freeList = append(p.freeList, p.arena[i*blockSize:(i+1)*blockSize:(i+1)*blockSize])
		}
	}
	return p
}

// Alloc returns a block of Pool's block size, or nil if the pool is
// limited and exhausted.
func (p *Pool) Alloc() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freeList); n > 0 {
		b := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.used++
		return b
	}
	if n := len(p.dynFree); n > 0 {
		b := p.dynFree[n-1]
		p.dynFree = p.dynFree[:n-1]
		p.dynamicUsed++
		p.used++
		return b
	}
	if p.limited {
		return nil
	}

	b := make([]byte, p.blockSize)
	p.count++
	p.dynamicUsed++
	p.used++
	return b
}

// Zalloc is Alloc with the returned block zeroed (it always is, since Go
// slices are zero-initialized, but the explicit entry point mirrors the
// source's mempool_zalloc for callers that reuse buffers they previously
// wrote into via Free/Alloc round-tripping... it still re-zeroes here for
// that case).
func (p *Pool) Zalloc() []byte {
	b := p.Alloc()
	for i := range b {
		b[i] = 0
	}
	return b
}

// IsDynamic reports whether buf was allocated dynamically (outside the
// pre-carved arena).
func (p *Pool) IsDynamic(buf []byte) bool {
	if len(p.arena) == 0 || len(buf) == 0 {
		return len(p.arena) == 0
	}
	return !withinArena(p.arena, buf)
}

func withinArena(arena, buf []byte) bool {
	if len(arena) == 0 || len(buf) == 0 {
		return false
	}
	lo := uintptr(unsafe.Pointer(&arena[0]))
	hi := uintptr(unsafe.Pointer(&arena[len(arena)-1]))
	b := uintptr(unsafe.Pointer(&buf[0]))
	return lo <= b && b <= hi
}

// Free returns buf to the appropriate free list and triggers a shrink
// sweep if the shrink condition holds.
func (p *Pool) Free(buf []byte) {
	p.mu.Lock()
	dynamic := p.IsDynamic(buf)
	if dynamic {
		p.dynFree = append(p.dynFree, buf)
		p.dynamicUsed--
	} else {
		p.freeList = append(p.freeList, buf)
	}
	p.used--
	needShrink := p.needsShrink()
	p.mu.Unlock()

	if needShrink {
		p.Shrink()
	}
}

func (p *Pool) needsShrink() bool {
	free := p.count - p.used
	dynFree := (p.count - p.initCount) - p.dynamicUsed
	return free >= p.initCount*3 && dynFree >= p.initCount
}

// Shrink frees dynamic overflow blocks back to the system until the
// shrink condition no longer holds.
func (p *Pool) Shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.dynFree) > 0 && p.needsShrink() {
		p.dynFree = p.dynFree[:len(p.dynFree)-1]
		p.count--
	}
}

// Stats returns the live counters, for tests and the debug surface.
func (p *Pool) Stats() (count, used, dynamicUsed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, p.used, p.dynamicUsed
}

// Release drops every reference the pool holds. Blocks already handed out
// remain valid for the GC to collect once their last holder drops them.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arena = nil
	p.freeList = nil
	p.dynFree = nil
}
