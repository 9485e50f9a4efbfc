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

// Package timer is the runtime's ordered deadline index, mirroring
// src/timer.c's rb-tree-of-deadlines design but backed by a heap and a
// single kernel timerfd registered with the reactor as an ordinary hook,
// in place of the intrusive rb-tree-plus-platform-timer pairing.
package timer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/hoyleeson/corert/internal/reactor"
	"github.com/hoyleeson/corert/pkg/logger"
)

// CallbackFunc is invoked when a Timer expires. It runs on the reactor
// goroutine (inline with the timer fd's readable callback), so it must
// not block.
type CallbackFunc func(t *Timer)

// Timer is a single armed deadline, mirroring struct timer_list.
type Timer struct {
	deadline time.Time
	interval time.Duration // >0 for a repeating timer
	cb       CallbackFunc

	index   int // heap index, maintained by container/heap
	pending bool
	seq     uint64 // tie-breaker for FIFO ordering among equal deadlines
}

// Deadline returns the timer's next fire time.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Pending reports whether t is still armed.
func (t *Timer) Pending() bool { return t.pending }

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Service is a single ordered timer index serviced by one backing
// timerfd registered with a Reactor, mirroring run_timers' "the reactor
// owns the single kernel timer via an ordinary hook registration"
// coupling (spec §4.2/§6).
type Service struct {
	log *logger.Logger

	r  *reactor.Reactor
	fd int

	mu  sync.Mutex
	h   timerHeap
	seq uint64
	// armed is the deadline currently programmed on fd, or the zero
	// Time if fd is disarmed. Tracked so reprogram only issues a
	// TimerfdSettime syscall when the earliest deadline actually moves.
	armed time.Time
}

// NewService creates a timer service backed by a timerfd registered
// with r. Call Stop to shut it down; r must outlive the Service.
func NewService(r *reactor.Reactor) (*Service, error) {
	fd, err := newTimerfd()
	if err != nil {
		return nil, fmt.Errorf("timer: create timerfd: %w", err)
	}
	s := &Service{
		log: logger.GetLogger("timer", "Service"),
		r:   r,
		fd:  fd,
	}
	r.Add(fd, s.onReadable)
	r.Enable(fd, reactor.EventRead)
	return s, nil
}

// Add arms a one-shot timer firing cb at deadline.
func (s *Service) Add(deadline time.Time, cb CallbackFunc) *Timer {
	return s.add(deadline, 0, cb)
}

// AddAfter arms a one-shot timer firing cb after d elapses.
func (s *Service) AddAfter(d time.Duration, cb CallbackFunc) *Timer {
	return s.add(time.Now().Add(d), 0, cb)
}

// AddInterval arms a repeating timer firing cb every d, first at d from
// now.
func (s *Service) AddInterval(d time.Duration, cb CallbackFunc) *Timer {
	return s.add(time.Now().Add(d), d, cb)
}

func (s *Service) add(deadline time.Time, interval time.Duration, cb CallbackFunc) *Timer {
	t := &Timer{deadline: deadline, interval: interval, cb: cb, pending: true}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	heap.Push(&s.h, t)
	s.mu.Unlock()

	s.reprogram()
	return t
}

// Mod reschedules t to a new deadline, as if del then add had been
// called, matching timer_set_expires' reprogramming semantics. It
// returns whether t was pending before the call. If t was pending and
// its deadline is unchanged, Mod returns early without reprogramming
// anything, per the source's "already pending at this deadline" fast
// path.
func (s *Service) Mod(t *Timer, deadline time.Time) bool {
	s.mu.Lock()
	wasPending := t.pending
	if wasPending && t.deadline.Equal(deadline) {
		s.mu.Unlock()
		return wasPending
	}

	if t.index < 0 {
		// already fired and not repeating; re-arm as new
		t.deadline = deadline
		t.pending = true
		s.seq++
		t.seq = s.seq
		heap.Push(&s.h, t)
	} else {
		t.deadline = deadline
		heap.Fix(&s.h, t.index)
	}
	s.mu.Unlock()

	s.reprogram()
	return wasPending
}

// Del removes t if it is still pending, reporting whether it was.
// Deleting an already-expired-but-not-yet-dispatched timer is a no-op
// that reports "not pending"; the service makes no cancel-in-flight
// guarantee for a callback already running.
func (s *Service) Del(t *Timer) bool {
	s.mu.Lock()
	wasPending := t.pending
	if t.index >= 0 {
		heap.Remove(&s.h, t.index)
	}
	t.pending = false
	s.mu.Unlock()

	if wasPending {
		s.reprogram()
	}
	return wasPending
}

// onReadable runs on the reactor goroutine when fd reports data,
// mirroring the control-pipe hook epoll_linux.go registers: drain the
// wakeup, then do the real work.
func (s *Service) onReadable(fd int, events reactor.EventMask) {
	drainTimerfd(fd)
	s.sweep()
}

// sweep pops every timer due now and invokes its callback inline on the
// reactor goroutine, matching run_timers' "collect under lock, invoke
// unlocked" structure so a callback that re-arms another timer cannot
// deadlock against the same mutex.
func (s *Service) sweep() {
	now := time.Now()
	var due []*Timer

	s.mu.Lock()
	for len(s.h) > 0 && !s.h[0].deadline.After(now) {
		t := heap.Pop(&s.h).(*Timer)
		if t.interval > 0 {
			// re-arm the same Timer, so the handle AddInterval returned
			// stays valid for Pending/Del/Mod
			t.deadline = now.Add(t.interval)
			s.seq++
			t.seq = s.seq
			heap.Push(&s.h, t)
		} else {
			t.pending = false
		}
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("timer callback panicked", logger.Any("recover", r))
				}
			}()
			t.cb(t)
		}()
	}

	s.reprogram()
}

// reprogram arms the backing timerfd to the current earliest deadline,
// or disarms it if the service holds no timers, mirroring the timer
// service's "track next_armed_deadline, reprogram only on change"
// bookkeeping.
func (s *Service) reprogram() {
	s.mu.Lock()
	var next time.Time
	if len(s.h) > 0 {
		next = s.h[0].deadline
	}
	same := next.Equal(s.armed)
	s.armed = next
	s.mu.Unlock()

	if same {
		return
	}

	var err error
	if next.IsZero() {
		err = disarmTimerfd(s.fd)
	} else {
		err = armTimerfd(s.fd, time.Until(next))
	}
	if err != nil {
		s.log.Error("reprogram timerfd failed", logger.Error(err))
	}
}

// Stop shuts the service down: the backing timerfd is unregistered from
// the reactor and closed. Pending timers never fire.
func (s *Service) Stop() {
	s.r.Del(s.fd)
	_ = closeTimerfd(s.fd)
}
