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

// Package ioh wraps a connected or listening socket in the handler
// shape of src/ioasync.c: a small vtable of callbacks (Handle, HandleFrom,
// Accept, Close) plus an inbound and outbound queue drained by a
// Workqueue instead of the reactor thread itself.
package ioh

import (
	"net"
	"sync"

	"github.com/hoyleeson/corert/internal/concurrent"
	"github.com/hoyleeson/corert/internal/slab"
	"github.com/hoyleeson/corert/pkg/logger"
)

// Type distinguishes the handler shapes the original source dispatched
// on handler->type.
type Type int

const (
	TypeNormal Type = iota
	TypeTCPAccept
	TypeTCP
	TypeUDP
)

// Ops is the callback vtable a Handler invokes as data and lifecycle
// events arrive, mirroring struct handle_ops.
type Ops struct {
	Accept      func(conn net.Conn)
	Handle      func(data []byte)
	HandleFrom  func(data []byte, from net.Addr)
	Close       func()
}

// Handler wraps a connection (or listener) with queued, workqueue-driven
// I/O.
type Handler struct {
	log     *logger.Logger
	typ     Type
	ops     Ops
	conn    net.Conn
	pconn   net.PacketConn
	ln      net.Listener
	wq      *concurrent.Workqueue
	bufPool *slab.BufferPool

	mu      sync.Mutex
	closing bool
	closed  bool
	// close is nilled out on Shutdown before the remaining queue is
	// drained, mirroring iohandler_shutdown's documented behavior: any
	// packets still in flight when Shutdown is called are pushed to the
	// wire, but Close never fires a second time for them.
	closeCB func()

	inMu     sync.Mutex
	inQ      []inboundItem
	inFlight bool

	outMu     sync.Mutex
	outQ      []outboundItem
	outFlight bool
}

// inboundItem is one decoded read, queued for in-order delivery to the
// user callback.
type inboundItem struct {
	data []byte
	addr net.Addr // set for TypeUDP, nil otherwise
}

// outboundItem is one packet queued for write, mirroring the source's
// per-handler out-queue. pb is non-nil when the packet was handed to
// SendPacket/SendPacketTo or allocated from a pool internally by
// Send/SendTo, and is freed once the bytes are fully written.
type outboundItem struct {
	data []byte
	addr net.Addr // set for TypeUDP sends, nil otherwise
	pb   *slab.PacketBuffer
}

// recvSize is the payload size read into a single inbound PacketBuffer,
// mirroring the source's fixed per-read packet allocation.
const recvSize = 64 * 1024

// allocRecvBuf returns a buffer to read into: a slab-backed PacketBuffer
// when the handler has a pool (the common, production path), or a plain
// heap buffer for handlers built without one (e.g. in unit tests that
// don't care about allocator reuse).
func (h *Handler) allocRecvBuf() (buf []byte, pb *slab.PacketBuffer) {
	if h.bufPool == nil {
		return make([]byte, recvSize), nil
	}
	pb = h.bufPool.Alloc(recvSize)
	return pb.Data, pb
}

// NewStream wraps an already-accepted/-dialed stream connection.
func NewStream(conn net.Conn, ops Ops, wq *concurrent.Workqueue, bufPool *slab.BufferPool) *Handler {
	h := &Handler{
		log:     logger.GetLogger("ioh", "Handler"),
		typ:     TypeTCP,
		ops:     ops,
		conn:    conn,
		wq:      wq,
		bufPool: bufPool,
		closeCB: ops.Close,
	}
	go h.readLoop()
	return h
}

// NewAccept wraps a listener, invoking ops.Accept for each incoming
// connection on its own goroutine.
func NewAccept(ln net.Listener, ops Ops, wq *concurrent.Workqueue, bufPool *slab.BufferPool) *Handler {
	h := &Handler{
		log:     logger.GetLogger("ioh", "Handler"),
		typ:     TypeTCPAccept,
		ops:     ops,
		ln:      ln,
		wq:      wq,
		bufPool: bufPool,
		closeCB: ops.Close,
	}
	go h.acceptLoop()
	return h
}

// NewDgram wraps a packet connection (UDP), invoking ops.HandleFrom per
// datagram.
func NewDgram(pconn net.PacketConn, ops Ops, wq *concurrent.Workqueue, bufPool *slab.BufferPool) *Handler {
	h := &Handler{
		log:     logger.GetLogger("ioh", "Handler"),
		typ:     TypeUDP,
		ops:     ops,
		pconn:   pconn,
		wq:      wq,
		bufPool: bufPool,
		closeCB: ops.Close,
	}
	go h.readFromLoop()
	return h
}

func (h *Handler) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		if h.ops.Accept != nil {
			h.ops.Accept(conn)
		}
	}
}

func (h *Handler) readLoop() {
	for {
		buf, pb := h.allocRecvBuf()
		n, err := h.conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			h.pushInbound(inboundItem{data: data})
		}
		if pb != nil {
			pb.Free()
		}
		if err != nil {
			h.onClosed()
			return
		}
	}
}

func (h *Handler) readFromLoop() {
	for {
		buf, pb := h.allocRecvBuf()
		n, addr, err := h.pconn.ReadFrom(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			h.pushInbound(inboundItem{data: data, addr: addr})
		}
		if pb != nil {
			pb.Free()
		}
		if err != nil {
			h.onClosed()
			return
		}
	}
}

// pushInbound appends item to q_in and, if no drain work item is
// currently in flight for this handler, queues one. drainInbound then
// empties q_in to completion in that single work item rather than one
// work item per packet, so the pool can never run two reads from the
// same connection concurrently or out of their read order — a second
// pool worker picking up a later packet while an earlier one is still
// in q_in would violate the "delivery is a prefix of the byte stream"
// invariant.
func (h *Handler) pushInbound(it inboundItem) {
	h.inMu.Lock()
	h.inQ = append(h.inQ, it)
	if h.inFlight {
		h.inMu.Unlock()
		return
	}
	h.inFlight = true
	h.inMu.Unlock()

	h.wq.Queue(concurrent.NewWork(h.drainInbound, concurrent.FlagNone))
}

// drainInbound runs as a single work item, draining q_in to empty before
// clearing inFlight so any packet that arrived mid-drain is still
// delivered without requiring a second work item to be scheduled.
func (h *Handler) drainInbound() {
	for {
		h.inMu.Lock()
		if len(h.inQ) == 0 {
			h.inFlight = false
			h.inMu.Unlock()
			return
		}
		it := h.inQ[0]
		h.inQ = h.inQ[1:]
		h.inMu.Unlock()

		if it.addr != nil {
			if h.ops.HandleFrom != nil {
				h.ops.HandleFrom(it.data, it.addr)
			}
		} else if h.ops.Handle != nil {
			h.ops.Handle(it.data)
		}
	}
}

func (h *Handler) onClosed() {
	h.mu.Lock()
	cb := h.closeCB
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Send queues data for write on a stream handler, copying it into a
// pool-backed buffer when the handler was built with one.
func (h *Handler) Send(data []byte) error {
	return h.sendItem(data, nil)
}

// SendTo queues data for write to addr on a datagram handler.
func (h *Handler) SendTo(data []byte, addr net.Addr) error {
	return h.sendItem(data, addr)
}

func (h *Handler) sendItem(data []byte, addr net.Addr) error {
	if h.bufPool != nil {
		pb := h.bufPool.Alloc(len(data))
		copy(pb.Data, data)
		return h.enqueueOutbound(outboundItem{data: pb.Data, addr: addr, pb: pb})
	}
	buf := append([]byte(nil), data...)
	return h.enqueueOutbound(outboundItem{data: buf, addr: addr})
}

// SendPacket enqueues pb for write on a stream handler, taking ownership
// of the caller's reference: pb is freed once it has been fully written.
func (h *Handler) SendPacket(pb *slab.PacketBuffer) error {
	return h.enqueueOutbound(outboundItem{data: pb.Data, pb: pb})
}

// SendPacketTo enqueues pb for write to addr on a datagram handler,
// taking ownership of the caller's reference.
func (h *Handler) SendPacketTo(pb *slab.PacketBuffer, addr net.Addr) error {
	return h.enqueueOutbound(outboundItem{data: pb.Data, addr: addr, pb: pb})
}

// enqueueOutbound appends it to the out-queue and, if no drain work item
// is currently in flight, queues one. Mirrors pushInbound: a single work
// item drains the queue to completion so writes on one handler are never
// reordered by two pool workers racing each other.
func (h *Handler) enqueueOutbound(it outboundItem) error {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		if it.pb != nil {
			it.pb.Free()
		}
		return net.ErrClosed
	}

	h.outMu.Lock()
	h.outQ = append(h.outQ, it)
	if h.outFlight {
		h.outMu.Unlock()
		return nil
	}
	h.outFlight = true
	h.outMu.Unlock()

	h.wq.Queue(concurrent.NewWork(h.drainOutbound, concurrent.FlagNone))
	return nil
}

// drainOutbound runs as a single work item, writing queued packets in
// submission order. Once the queue runs dry it clears outFlight and, if
// Shutdown was requested while packets were still in flight, performs
// the deferred teardown (the "closing list" of §5: a handler shut down
// with pending output is torn down only after its out-queue drains).
func (h *Handler) drainOutbound() {
	for {
		h.outMu.Lock()
		if len(h.outQ) == 0 {
			h.outFlight = false
			h.outMu.Unlock()
			break
		}
		it := h.outQ[0]
		h.outQ = h.outQ[1:]
		h.outMu.Unlock()

		h.writeOne(it)
		if it.pb != nil {
			it.pb.Free()
		}
	}

	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		h.doClose()
	}
}

// writeOne writes it to completion, looping on stream
// connections to flush any short write.
func (h *Handler) writeOne(it outboundItem) {
	if h.typ == TypeUDP {
		if _, err := h.pconn.WriteTo(it.data, it.addr); err != nil {
			h.log.Error("send_to failed", logger.Error(err))
		}
		return
	}
	data := it.data
	for len(data) > 0 {
		n, err := h.conn.Write(data)
		if err != nil {
			h.log.Error("send failed", logger.Error(err))
			return
		}
		data = data[n:]
	}
}

// Shutdown suppresses any further Close callback and tears the handler
// down once any queued output has drained. This preserves
// iohandler_shutdown's documented quirk: the close callback is nulled
// out up front, so a handler that is mid-shutdown when its peer also
// hangs up never calls Close twice, but it also never calls Close at
// all for a shutdown the caller itself initiated.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return
	}
	h.closing = true
	h.closeCB = nil
	h.mu.Unlock()

	h.outMu.Lock()
	drained := len(h.outQ) == 0 && !h.outFlight
	h.outMu.Unlock()
	if drained {
		h.doClose()
	}
	// otherwise drainOutbound calls doClose itself once the out-queue
	// empties, since h.closing is now set.
}

// doClose tears down the underlying socket exactly once, whether it was
// triggered by Shutdown or by the out-queue draining after Shutdown was
// called while writes were still pending.
func (h *Handler) doClose() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	switch h.typ {
	case TypeTCPAccept:
		_ = h.ln.Close()
	case TypeUDP:
		_ = h.pconn.Close()
	default:
		_ = h.conn.Close()
	}
}
