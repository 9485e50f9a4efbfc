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

package concurrent

import (
	"container/list"
	"sync"
	"time"

	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/internal/timer"
)

// WorkFlag mirrors the source's per-work flags (src/workqueue.c).
type WorkFlag int

const (
	// FlagNone queues a work item in FIFO order, sharing the workqueue's
	// concurrency budget with every other normal-priority item.
	FlagNone WorkFlag = 0
	// FlagHighPri inserts ahead of any non-HIGHPRI item already queued.
	FlagHighPri WorkFlag = 1 << iota
	// FlagCPUIntensive excludes the work's executing goroutine from the
	// pool's "nr_running" accounting, so it doesn't starve other
	// concurrency-limited work while it runs.
	FlagCPUIntensive
)

// WorkFunc is the callable body of a Work item.
type WorkFunc func()

// Work is a unit of deferred execution belonging to a Workqueue, mirroring
// struct work_struct.
type Work struct {
	fn    WorkFunc
	flags WorkFlag

	wq *Workqueue

	mu      sync.Mutex
	pending bool
	elem    *list.Element
	done    chan struct{}
}

// NewWork wraps fn as a work item with the given flags.
func NewWork(fn WorkFunc, flags WorkFlag) *Work {
	return &Work{fn: fn, flags: flags}
}

// Pending reports whether w is currently queued, delayed, or executing,
// mirroring work_pending(). A DelayedWork is pending from the moment it
// is armed by QueueDelayed through the instant its function returns,
// except for the brief instant when its timer fires, between the timer
// callback clearing the flag and Queue setting it again.
func (w *Work) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// DelayedWork is a Work item armed to enqueue itself after a delay,
// mirroring struct delayed_work.
type DelayedWork struct {
	Work
	armedTimer *timer.Timer
}

// NewDelayedWork wraps fn as a delayed work item with the given flags.
func NewDelayedWork(fn WorkFunc, flags WorkFlag) *DelayedWork {
	dw := &DelayedWork{}
	dw.fn = fn
	dw.flags = flags
	return dw
}

// Workqueue bounds how many of its Work items may execute concurrently
// (max_active) and defers the rest onto a pending list, refilling active
// slots as items complete. This refill step is the fix for the gap in the
// original global_wq: there, wq->nr_active was decremented on completion
// but nothing pulled the next delayed item back in, so a busy workqueue
// could stall forever below its own max_active ceiling.
type Workqueue struct {
	name   string
	pool   Pool
	max    int
	timers *timer.Service // backs QueueDelayed; nil if this wq never delays work

	mu       sync.Mutex
	nrActive int
	pending  list.List // of *Work, ordered FIFO with HIGHPRI items inserted ahead
	busy     map[*Work]struct{}
	draining bool
	drainWG  sync.WaitGroup

	queued  *linmetric.BoundDeltaCounter
	started *linmetric.BoundDeltaCounter
	done    *linmetric.BoundDeltaCounter
}

// NewWorkqueue creates a workqueue that dispatches onto pool, running at
// most maxActive items concurrently (maxActive<=0 means unbounded).
// timers backs QueueDelayed; it may be nil for a workqueue that never
// delays work.
func NewWorkqueue(name string, pool Pool, maxActive int, timers *timer.Service, scope linmetric.Scope) *Workqueue {
	wq := &Workqueue{
		name:    name,
		pool:    pool,
		max:     maxActive,
		timers:  timers,
		busy:    make(map[*Work]struct{}),
		queued:  scope.NewDeltaCounter("work_queued"),
		started: scope.NewDeltaCounter("work_started"),
		done:    scope.NewDeltaCounter("work_done"),
	}
	return wq
}

// Queue enqueues w for execution, respecting max_active and HIGHPRI
// ordering. Queuing a work item that is already pending or executing is a
// no-op, matching queue_work's "already on a workqueue" check.
func (wq *Workqueue) Queue(w *Work) bool {
	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return false
	}
	w.pending = true
	w.wq = wq
	w.done = make(chan struct{})
	w.mu.Unlock()

	wq.queued.Incr()
	wq.mu.Lock()
	if wq.draining {
		wq.mu.Unlock()
		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()
		return false
	}
	wq.insert(w)
	wq.mu.Unlock()

	wq.dispatch()
	return true
}

// insert places w on the pending list, ahead of the first non-HIGHPRI
// entry if w itself is HIGHPRI (gwq_determine_ins_pos).
func (wq *Workqueue) insert(w *Work) {
	if w.flags&FlagHighPri != 0 {
		for e := wq.pending.Front(); e != nil; e = e.Next() {
			if e.Value.(*Work).flags&FlagHighPri == 0 {
				w.elem = wq.pending.InsertBefore(w, e)
				return
			}
		}
	}
	w.elem = wq.pending.PushBack(w)
}

// dispatch pulls as many pending items as the active budget allows and
// submits them to the pool.
func (wq *Workqueue) dispatch() {
	for {
		wq.mu.Lock()
		if wq.max > 0 && wq.nrActive >= wq.max {
			wq.mu.Unlock()
			return
		}
		e := wq.pending.Front()
		if e == nil {
			wq.mu.Unlock()
			return
		}
		w := e.Value.(*Work)
		wq.pending.Remove(e)
		w.elem = nil
		wq.nrActive++
		wq.busy[w] = struct{}{}
		wq.drainWG.Add(1)
		wq.mu.Unlock()

		wq.started.Incr()
		if w.flags&FlagCPUIntensive != 0 {
			wq.pool.SubmitCPUIntensive(func() { wq.run(w) })
		} else {
			wq.pool.Submit(func() { wq.run(w) })
		}
	}
}

func (wq *Workqueue) run(w *Work) {
	defer func() {
		wq.mu.Lock()
		delete(wq.busy, w)
		wq.nrActive--
		wq.mu.Unlock()
		wq.done.Incr()
		wq.drainWG.Done()

		w.mu.Lock()
		w.pending = false
		close(w.done)
		w.mu.Unlock()

		// refill: pull the next pending item now that a slot is free.
		wq.dispatch()
	}()
	w.fn()
}

// QueueDelayed arms dw to enqueue after delay elapses, through the
// workqueue's shared timer.Service. A delay of zero or less behaves as
// Queue, matching queue_delayed_work's delay_ms==0 fast path.
func (wq *Workqueue) QueueDelayed(dw *DelayedWork, delay time.Duration) {
	dw.mu.Lock()
	if dw.pending {
		dw.mu.Unlock()
		return
	}
	dw.pending = true
	dw.wq = wq
	dw.mu.Unlock()

	if delay <= 0 {
		dw.mu.Lock()
		dw.pending = false
		dw.mu.Unlock()
		wq.Queue(&dw.Work)
		return
	}

	dw.armedTimer = wq.timers.AddAfter(delay, func(*timer.Timer) {
		dw.mu.Lock()
		dw.pending = false
		dw.mu.Unlock()
		wq.Queue(&dw.Work)
	})
}

// CancelSync cancels w: if still only pending (not yet started), it is
// removed without ever running; if already executing, CancelSync blocks
// until that run completes. The original source declared cancel_work_sync
// but never implemented it; this fills that gap.
func (wq *Workqueue) CancelSync(w *Work) {
	w.mu.Lock()
	done := w.done
	pending := w.pending
	w.mu.Unlock()
	if !pending {
		return
	}

	wq.mu.Lock()
	if w.elem != nil {
		wq.pending.Remove(w.elem)
		w.elem = nil
		wq.mu.Unlock()

		w.mu.Lock()
		w.pending = false
		if w.done != nil {
			close(w.done)
		}
		w.mu.Unlock()
		return
	}
	wq.mu.Unlock()

	if done != nil {
		<-done
	}
}

// CancelDelayedSync stops dw's timer (if it hasn't fired yet) or cancels
// the resulting Work (if it has).
func (wq *Workqueue) CancelDelayedSync(dw *DelayedWork) {
	if dw.armedTimer != nil && wq.timers.Del(dw.armedTimer) {
		dw.mu.Lock()
		dw.pending = false
		dw.mu.Unlock()
		return
	}
	wq.CancelSync(&dw.Work)
}

// Flush blocks until every work item queued on wq before this call
// returns. Like CancelSync, flush_workqueue was declared in the original
// source with a body stubbed out; this is the real implementation.
func (wq *Workqueue) Flush() {
	wq.mu.Lock()
	pending := make([]*Work, 0, wq.pending.Len())
	for e := wq.pending.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(*Work))
	}
	busy := make([]*Work, 0, len(wq.busy))
	for w := range wq.busy {
		busy = append(busy, w)
	}
	wq.mu.Unlock()

	for _, w := range append(pending, busy...) {
		w.mu.Lock()
		done := w.done
		w.mu.Unlock()
		if done != nil {
			<-done
		}
	}
}

// Drain marks wq closed to new work and blocks until everything
// outstanding finishes.
func (wq *Workqueue) Drain() {
	wq.mu.Lock()
	wq.draining = true
	wq.mu.Unlock()

	wq.Flush()
	wq.drainWG.Wait()
}

// Stats reports the current active and pending counts, for the debug
// server.
func (wq *Workqueue) Stats() (active, pending int) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return wq.nrActive, wq.pending.Len()
}
