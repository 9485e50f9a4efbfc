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

// Package reactor is a single-goroutine epoll event loop, mirroring
// src/poller.c: one thread owns the epoll set, every other goroutine talks
// to it through a control channel instead of touching the set directly.
package reactor

import (
	"fmt"
	"sync"

	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/pkg/logger"
)

// EventMask is a bitmask of the events a hook is interested in.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
	EventHup
)

// HandleFunc is invoked on the reactor goroutine when fd reports events.
// It must not block.
type HandleFunc func(fd int, events EventMask)

// hook is one registered (fd, callback, mask) triple, mirroring
// struct looper_event_node.
type hook struct {
	fd      int
	mask    EventMask
	handle  HandleFunc
	closing bool
}

type ctlOpt int

const (
	ctlAdd ctlOpt = iota
	ctlDel
	ctlEnable
	ctlDisable
	ctlSignal
)

type ctlCmd struct {
	opt    ctlOpt
	fd     int
	mask   EventMask
	handle HandleFunc
	ack    chan struct{}
}

// backend is the syscall surface a Reactor drives; it is an interface so
// tests can swap in a fake without depending on a real epoll fd.
type backend interface {
	add(fd int, mask EventMask) error
	modify(fd int, mask EventMask) error
	remove(fd int) error
	wait(ctlFd int) ([]readyFd, error)
	close() error
}

type readyFd struct {
	fd     int
	events EventMask
}

// Reactor owns one hook table and one backend poll set. The zero value is
// not usable; construct with New.
type Reactor struct {
	log *logger.Logger

	backend backend
	ctlR    int // read end of the control wake pipe, registered with backend
	ctlW    int // write end, used to wake a blocked wait()

	mu    sync.Mutex
	hooks map[int]*hook

	ctl  chan ctlCmd
	stop chan struct{}
	done chan struct{}

	dispatched *linmetric.BoundDeltaCounter
}

// New constructs a reactor with a real epoll backend. Call Run in its own
// goroutine and Stop to shut it down.
func New(scope linmetric.Scope) (*Reactor, error) {
	be, ctlR, ctlW, err := newEpollBackend()
	if err != nil {
		return nil, fmt.Errorf("reactor: create backend: %w", err)
	}
	r := &Reactor{
		log:        logger.GetLogger("reactor", "Reactor"),
		backend:    be,
		ctlR:       ctlR,
		ctlW:       ctlW,
		hooks:      make(map[int]*hook),
		ctl:        make(chan ctlCmd, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		dispatched: scope.NewDeltaCounter("events_dispatched"),
	}
	return r, nil
}

// Add registers fd with handle and no events enabled, mirroring
// poller_event_add.
func (r *Reactor) Add(fd int, handle HandleFunc) {
	r.submit(ctlCmd{opt: ctlAdd, fd: fd, handle: handle})
}

// Del unregisters fd. Its hook is marked closing and compacted out after
// the current dispatch sweep, so a Del issued from inside a callback for
// fd never invalidates the sweep in progress.
func (r *Reactor) Del(fd int) {
	r.submit(ctlCmd{opt: ctlDel, fd: fd})
}

// Enable adds events to fd's active mask.
func (r *Reactor) Enable(fd int, events EventMask) {
	r.submit(ctlCmd{opt: ctlEnable, fd: fd, mask: events})
}

// Disable removes events from fd's active mask.
func (r *Reactor) Disable(fd int, events EventMask) {
	r.submit(ctlCmd{opt: ctlDisable, fd: fd, mask: events})
}

// Signal wakes the reactor goroutine out of a blocked wait() without
// touching any hook, mirroring poller_wakeup. Callers that only need to
// make sure a pending control command (or some externally-observed
// state change) gets noticed promptly use this instead of Add/Enable.
func (r *Reactor) Signal() {
	r.submit(ctlCmd{opt: ctlSignal})
}

// submit enqueues a control command and wakes the reactor if it is
// blocked in wait(), mirroring poller_ctl_submit's write to ctl_socks[0].
func (r *Reactor) submit(cmd ctlCmd) {
	select {
	case r.ctl <- cmd:
	case <-r.stop:
		return
	}
	wakeBackend(r.ctlW)
}

// Run drives the event loop until Stop is called. It must be run on its
// own goroutine; all hook callbacks execute on this same goroutine, so
// none of them may block.
func (r *Reactor) Run() {
	defer close(r.done)

	type waitResult struct {
		ready []readyFd
		err   error
	}
	results := make(chan waitResult, 1)
	go func() {
		for {
			ready, err := r.backend.wait(r.ctlR)
			select {
			case results <- waitResult{ready, err}:
			case <-r.stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.stop:
			return
		case cmd := <-r.ctl:
			r.applyCtl(cmd)
		case res := <-results:
			if res.err != nil {
				r.log.Error("backend wait failed", logger.Error(res.err))
				continue
			}
			r.drainControl()
			r.dispatch(res.ready)
			r.compactClosing()
		}
	}
}

// drainControl applies every control command still queued when a wait
// returns, before the batch that wait delivered is dispatched.
func (r *Reactor) drainControl() {
	for {
		select {
		case cmd := <-r.ctl:
			r.applyCtl(cmd)
		default:
			return
		}
	}
}

func (r *Reactor) applyCtl(cmd ctlCmd) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch cmd.opt {
	case ctlAdd:
		r.hooks[cmd.fd] = &hook{fd: cmd.fd, handle: cmd.handle}
	case ctlDel:
		if h, ok := r.hooks[cmd.fd]; ok {
			h.closing = true
			_ = r.backend.remove(cmd.fd)
		}
	case ctlEnable:
		if h, ok := r.hooks[cmd.fd]; ok {
			h.mask |= cmd.mask
			if err := r.backend.add(cmd.fd, h.mask); err != nil {
				_ = r.backend.modify(cmd.fd, h.mask)
			}
		}
	case ctlDisable:
		if h, ok := r.hooks[cmd.fd]; ok {
			h.mask &^= cmd.mask
			_ = r.backend.modify(cmd.fd, h.mask)
		}
	case ctlSignal:
		// no hook state to change; submit's wakeBackend call already did
		// the only thing a signal is for.
	}
}

// dispatch invokes each ready hook's callback in the order the backend
// returned them, skipping any hook already marked closing.
func (r *Reactor) dispatch(ready []readyFd) {
	for _, rd := range ready {
		if rd.fd == r.ctlR {
			continue
		}
		r.mu.Lock()
		h, ok := r.hooks[rd.fd]
		r.mu.Unlock()
		if !ok || h.closing {
			continue
		}
		r.dispatched.Incr()
		h.handle(rd.fd, rd.events)
	}
}

// compactClosing drops hooks marked closing during this sweep, mirroring
// poller_exec's end-of-sweep compaction pass.
func (r *Reactor) compactClosing() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fd, h := range r.hooks {
		if h.closing {
			delete(r.hooks, fd)
		}
	}
}

// Stop tells the reactor to exit its loop and waits for it to do so.
func (r *Reactor) Stop() {
	close(r.stop)
	wakeBackend(r.ctlW)
	<-r.done
	_ = r.backend.close()
}

// Stats reports the number of live hooks, for the debug server.
func (r *Reactor) Stats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
