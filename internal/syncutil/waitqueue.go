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

package syncutil

import (
	"container/list"
	"sync"
)

// WakeFunc is invoked for each waiter a wake-up sweep visits. It returns
// true if the waiter actually consumed a wake slot (the default wake
// function always does, by signalling the waiter's completion).
type WakeFunc func(w *Waiter) bool

// Waiter is a single entry on a WaitQueue: it owns a completion, an
// optional custom wake function, and an exclusivity flag.
type Waiter struct {
	Done      *Completion
	Wake      WakeFunc
	Exclusive bool

	elem *list.Element
}

func defaultWake(w *Waiter) bool {
	w.Done.Signal()
	return true
}

// NewWaiter returns a non-exclusive waiter with the default wake function.
func NewWaiter() *Waiter {
	return &Waiter{Done: NewCompletion(), Wake: defaultWake}
}

// WaitQueue is a mutex-guarded FIFO of waiters, supporting wake-one and
// wake-all sweeps from head.
type WaitQueue struct {
	mu      sync.Mutex
	waiters list.List
}

// NewWaitQueue returns an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// Add appends a non-exclusive waiter.
func (q *WaitQueue) Add(w *Waiter) {
	w.Exclusive = false
	q.mu.Lock()
	w.elem = q.waiters.PushBack(w)
	q.mu.Unlock()
}

// AddExclusive appends an exclusive (wake-one-class) waiter.
func (q *WaitQueue) AddExclusive(w *Waiter) {
	w.Exclusive = true
	q.mu.Lock()
	w.elem = q.waiters.PushBack(w)
	q.mu.Unlock()
}

// Remove detaches w from the queue if still linked. Safe to call more than
// once. A wake sweep does not unlink waiters, so a woken waiter stays
// queued until Remove is called.
func (q *WaitQueue) Remove(w *Waiter) {
	q.mu.Lock()
	if w.elem != nil {
		q.waiters.Remove(w.elem)
		w.elem = nil
	}
	q.mu.Unlock()
}

// WakeUp iterates from the head, invoking each waiter's wake function.
// Exclusive waiters that consumed a wake slot count against nrExclusive;
// the sweep stops once that budget is spent. nrExclusive<=0 wakes every
// waiter (wake-all).
func (q *WaitQueue) WakeUp(nrExclusive int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := nrExclusive
	var next *list.Element
	for e := q.waiters.Front(); e != nil; e = next {
		next = e.Next()
		w := e.Value.(*Waiter)
		woke := w.Wake(w)
		if w.Exclusive && woke {
			if nrExclusive > 0 {
				remaining--
				if remaining == 0 {
					return
				}
			}
		}
	}
}
