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
	"sync"

	"go.uber.org/atomic"
)

// PacketBuffer is a reference-counted buffer handed out by a BufferPool.
// The source's src/packet.c used a mutex to fake an atomic refcount; here
// the refcount is a real atomic, per the redesign that drops the fake-atomic
// pattern in favor of go.uber.org/atomic.
type PacketBuffer struct {
	Data []byte

	pool *BufferPool
	ref  atomic.Int32
}

// Get increments the reference count and returns the buffer, for callers
// that hand the same buffer to more than one consumer (e.g. fan-out to
// several io handlers).
func (b *PacketBuffer) Get() *PacketBuffer {
	b.ref.Inc()
	return b
}

// Free decrements the reference count, releasing the underlying block back
// to its pool once it reaches zero. Calling Free more times than the
// buffer was retained is a caller bug and panics, same as the source's
// assert on double-free.
func (b *PacketBuffer) Free() {
	n := b.ref.Dec()
	if n == 0 {
		b.pool.release(b)
	} else if n < 0 {
		panic("slab: PacketBuffer freed more times than retained")
	}
}

// BufferPool hands out PacketBuffers backed by a size-classed Pool.
type BufferPool struct {
	mu      sync.Mutex
	classes *SizeClassCache
	inUse   map[*PacketBuffer]*Pool
}

// NewBufferPool builds a buffer pool whose underlying blocks are served by
// classes.
func NewBufferPool(classes *SizeClassCache) *BufferPool {
	return &BufferPool{
		classes: classes,
		inUse:   make(map[*PacketBuffer]*Pool),
	}
}

// Alloc returns a new PacketBuffer of at least size bytes with a reference
// count of one.
func (bp *BufferPool) Alloc(size int) *PacketBuffer {
	pool, block := bp.classes.Alloc(size)
	pb := &PacketBuffer{Data: block[:size], pool: bp}
	pb.ref.Store(1)

	bp.mu.Lock()
	bp.inUse[pb] = pool
	bp.mu.Unlock()
	return pb
}

func (bp *BufferPool) release(pb *PacketBuffer) {
	bp.mu.Lock()
	pool := bp.inUse[pb]
	delete(bp.inUse, pb)
	bp.mu.Unlock()

	if pool != nil {
		pool.Free(pb.Data[:cap(pb.Data)])
	}
}
