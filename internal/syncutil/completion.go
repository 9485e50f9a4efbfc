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

// Package syncutil holds the counting rendezvous and waiter-queue
// primitives (Completion, WaitQueue). No other package in this module
// imports it.
package syncutil

import (
	"sync"
	"time"
)

// maxBroadcast is the bump Broadcast adds to done (1<<30, in place of the
// source's UINT_MAX/2 in complete_all), so that a broadcast wakes every
// waiter currently parked and lets later waiters through until the bump
// is drained.
const maxBroadcast = 1 << 30

// Completion is a counting binary rendezvous: Signal/Broadcast increment a
// counter and wake waiters, Wait/WaitTimeout block until the counter is
// positive and then decrement it. Completions never wake spuriously.
type Completion struct {
	mu   sync.Mutex
	cond *sync.Cond
	done int
}

// NewCompletion returns a completion with done=0.
func NewCompletion() *Completion {
	c := &Completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Signal increments done by one and wakes a single waiter.
func (c *Completion) Signal() {
	c.mu.Lock()
	c.done++
	c.mu.Unlock()
	c.cond.Signal()
}

// Broadcast wakes every waiter currently blocked, and every waiter that
// arrives before the bump is drained.
func (c *Completion) Broadcast() {
	c.mu.Lock()
	c.done += maxBroadcast
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Wait blocks until done>0, then decrements it.
func (c *Completion) Wait() {
	c.mu.Lock()
	for c.done == 0 {
		c.cond.Wait()
	}
	c.done--
	c.mu.Unlock()
}

// TryWait decrements done iff it is already positive, without blocking.
func (c *Completion) TryWait() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == 0 {
		return false
	}
	c.done--
	return true
}

// WaitTimeout blocks until done>0 or the timeout elapses. It returns true
// if it consumed a signal, false on timeout.
func (c *Completion) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		// The goroutine above may still be blocked in Wait and will
		// consume a future signal; that mirrors the source's lack of a
		// cancel-in-flight guarantee (see the timer service notes).
		return false
	}
}

// Reinit resets done to zero.
func (c *Completion) Reinit() {
	c.mu.Lock()
	c.done = 0
	c.mu.Unlock()
}

// Done reports whether there are pending signals (a Wait would not
// currently block). It is advisory, like the source's completion_done.
func (c *Completion) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done > 0
}
