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

// Package frag fragments outbound datagrams into chunks of a configured
// size and reassembles them on the receiving side, mirroring
// src/data_frag.c.
package frag

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hoyleeson/corert/internal/errs"
	"github.com/hoyleeson/corert/internal/timer"
	"github.com/hoyleeson/corert/pkg/logger"
)

var log = logger.GetLogger("frag", "reassembler")

// MaxDatagramSize is DATA_MAX_LEN, the ceiling on a single logical
// datagram's reassembled size.
const MaxDatagramSize = 1 << 30

// DefragTimeout is how long a partially-reassembled datagram waits for
// its remaining chunks before the reassembler gives up and drops it.
const DefragTimeout = 10 * time.Second

// Chunk is one wire-level fragment of a larger datagram.
type Chunk struct {
	Seq    uint32
	Offset uint32
	Data   []byte
	// More is the source's "mf" flag, and keeps its inverted meaning: it
	// is true on the LAST chunk of a datagram, not on the ones with more
	// data still to come. Callers porting wire-compatible peers must not
	// "fix" this to the conventional IP-fragmentation sense.
	More bool
}

// Fragmenter splits data into Chunks of at most size bytes each,
// assigning each datagram a new sequence number.
type Fragmenter struct {
	size int
	seq  uint32
}

// NewFragmenter returns a fragmenter producing chunks of at most
// chunkSize bytes.
func NewFragmenter(chunkSize int) *Fragmenter {
	return &Fragmenter{size: chunkSize}
}

// Split breaks data into chunks, mirroring data_frag's walk over
// [0,len) in fraglen-sized steps.
func (f *Fragmenter) Split(data []byte) []Chunk {
	seq := atomic.AddUint32(&f.seq, 1)

	var chunks []Chunk
	ofs := 0
	for ofs < len(data) {
		end := ofs + f.size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{
			Seq:    seq,
			Offset: uint32(ofs),
			Data:   append([]byte(nil), data[ofs:end]...),
			More:   end == len(data),
		})
		ofs = end
	}
	return chunks
}

// chunkEntry pairs a Chunk with the borrowed source packet it arrived
// on, so the packet can be released via free_pkt once the chunk's
// bytes have been copied into the reassembled datagram (or discarded
// on drop).
type chunkEntry struct {
	c   Chunk
	src interface{}
}

// pending is one in-flight reassembly, mirroring frag_queue_t.
type pending struct {
	mu       sync.Mutex
	chunks   []chunkEntry // kept sorted by Offset
	total    int          // expected datagram length (Offset+len of the last chunk, More=true); -1 until it arrives
	haveLast bool
	recvLen  int
	tm       *timer.Timer
}

// Reassembler collects Chunks by sequence number and emits a datagram
// once every offset from 0 up to the announced total is covered.
// Chunks are inserted along with the source packet they were borrowed
// from; freePkt is invoked on that handle once the chunk's bytes are no
// longer needed, whether because the datagram completed or its
// watchdog discarded it.
type Reassembler struct {
	mu       sync.Mutex
	pendings map[uint32]*pending
	timers   *timer.Service
	onReady  func(seq uint32, data []byte)
	onDrop   func(seq uint32)
	freePkt  func(srcHandle interface{})
}

// NewReassembler returns a reassembler driven by timers for its
// watchdog. onReady is invoked, on the goroutine whose Defragment call
// completes the datagram, once it is fully covered; onDrop is invoked
// from the watchdog's timer callback on the reactor goroutine if the
// watchdog fires first, or inside Defragment for an oversize datagram.
// freePkt, if non-nil, is invoked once per Defragment call on
// that call's srcHandle, after the chunk's bytes have been copied out
// (on completion) or the instant its datagram is dropped.
func NewReassembler(timers *timer.Service, onReady func(seq uint32, data []byte), onDrop func(seq uint32), freePkt func(srcHandle interface{})) *Reassembler {
	return &Reassembler{
		pendings: make(map[uint32]*pending),
		timers:   timers,
		onReady:  onReady,
		onDrop:   onDrop,
		freePkt:  freePkt,
	}
}

func (r *Reassembler) getOrCreate(seq uint32) *pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pendings[seq]; ok {
		return p
	}
	p := &pending{total: -1}
	p.tm = r.timers.AddAfter(DefragTimeout, func(*timer.Timer) {
		r.drop(seq)
	})
	r.pendings[seq] = p
	return p
}

// drop tears down the reassembly queue for seq, releasing every
// borrowed source packet still held by its queued chunks via freePkt
// before reporting the drop, matching the source's "free the queue and
// its fragments" teardown on watchdog/oversize paths.
func (r *Reassembler) drop(seq uint32) {
	r.mu.Lock()
	p, ok := r.pendings[seq]
	delete(r.pendings, seq)
	r.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	chunks := p.chunks
	p.chunks = nil
	p.mu.Unlock()
	r.freeChunks(chunks)

	if r.onDrop != nil {
		r.onDrop(seq)
	}
}

// freeChunks invokes freePkt on every entry's borrowed source handle,
// if the reassembler was constructed with one.
func (r *Reassembler) freeChunks(chunks []chunkEntry) {
	if r.freePkt == nil {
		return
	}
	for _, ch := range chunks {
		r.freePkt(ch.src)
	}
}

// Defragment integrates chunk c into its datagram's reassembly queue,
// completing and delivering the datagram if c makes its coverage
// contiguous from zero. srcHandle is the source packet c's bytes were
// read from; it is released via freePkt once c's bytes are no longer
// needed, whether that is immediately (duplicate, oversize), at
// completion, or when the watchdog drops the datagram. A chunk whose
// offset duplicates one already queued is silently dropped, matching
// check_defrag's "fragments in a queue are distinct in offset"
// invariant.
func (r *Reassembler) Defragment(c Chunk, srcHandle interface{}) {
	p := r.getOrCreate(c.Seq)

	p.mu.Lock()
	for _, existing := range p.chunks {
		if existing.c.Offset == c.Offset {
			p.mu.Unlock()
			r.freeChunks([]chunkEntry{{src: srcHandle}})
			return
		}
	}
	p.chunks = append(p.chunks, chunkEntry{c: c, src: srcHandle})
	sort.Slice(p.chunks, func(i, j int) bool { return p.chunks[i].c.Offset < p.chunks[j].c.Offset })
	p.recvLen += len(c.Data)
	if c.More {
		p.haveLast = true
		p.total = int(c.Offset) + len(c.Data)
	}
	oversize := p.total > MaxDatagramSize || p.recvLen > MaxDatagramSize
	complete := !oversize && p.haveLast && contiguousEntries(p.chunks) && p.recvLen == p.total
	var assembled []byte
	var completedChunks []chunkEntry
	if complete {
		assembled = make([]byte, 0, p.total)
		for _, ch := range p.chunks {
			assembled = append(assembled, ch.c.Data...)
		}
		completedChunks = p.chunks
		p.chunks = nil
	}
	p.mu.Unlock()

	if oversize {
		log.Warn("reassembled datagram exceeds ceiling, dropping",
			logger.String("seq", formatSeq(c.Seq)), logger.Error(errs.ErrIO))
		r.drop(c.Seq)
		r.timers.Del(p.tm)
		return
	}

	if complete {
		r.mu.Lock()
		delete(r.pendings, c.Seq)
		r.mu.Unlock()
		r.timers.Del(p.tm)
		r.freeChunks(completedChunks)

		if r.onReady != nil {
			r.onReady(c.Seq, assembled)
		}
	}
}

func formatSeq(seq uint32) string {
	return strconv.FormatUint(uint64(seq), 10)
}

// contiguousEntries reports whether chunks (sorted ascending by Offset)
// cover [0, end) with no gaps, mirroring check_defrag's
// descending-offset walk.
func contiguousEntries(chunks []chunkEntry) bool {
	next := 0
	for _, ch := range chunks {
		if int(ch.c.Offset) != next {
			return false
		}
		next += len(ch.c.Data)
	}
	return true
}

// Pending reports how many datagrams are currently mid-reassembly, for
// the debug server.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendings)
}
