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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/internal/reactor"
	"github.com/hoyleeson/corert/internal/timer"
	"github.com/stretchr/testify/assert"
)

// newTestTimerService builds a timer.Service backed by a real reactor,
// cleaning both up when the test ends.
func newTestTimerService(t *testing.T) *timer.Service {
	t.Helper()
	r, err := reactor.New(linmetric.NewScope("corert.test.wq.timer." + t.Name()))
	assert.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Stop)

	svc, err := timer.NewService(r)
	assert.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc
}

func TestWorkqueue_RespectsMaxActive(t *testing.T) {
	pool := NewPool("wq-test", 16, time.Second, linmetric.NewScope("corert.test.wq1"))
	defer pool.Stop()
	wq := NewWorkqueue("limited", pool, 2, nil, linmetric.NewScope("corert.test.wq1.scope"))

	var running int32
	var maxSeen int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		wq.Queue(NewWork(func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			wg.Done()
		}, FlagNone))
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
	close(release)
	waitOrFail(t, &wg, time.Second)
}

func TestWorkqueue_HighPriRunsAheadOfQueuedNormal(t *testing.T) {
	pool := NewPool("wq-test2", 16, time.Second, linmetric.NewScope("corert.test.wq2"))
	defer pool.Stop()
	wq := NewWorkqueue("priority", pool, 1, nil, linmetric.NewScope("corert.test.wq2.scope"))

	var mu sync.Mutex
	var order []string
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)

	wq.Queue(NewWork(func() {
		<-block
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		wg.Done()
	}, FlagNone))

	time.Sleep(20 * time.Millisecond) // ensure "first" occupies the sole active slot

	wq.Queue(NewWork(func() {
		mu.Lock()
		order = append(order, "normal")
		mu.Unlock()
		wg.Done()
	}, FlagNone))
	wq.Queue(NewWork(func() {
		mu.Lock()
		order = append(order, "highpri")
		mu.Unlock()
		wg.Done()
	}, FlagHighPri))

	close(block)
	waitOrFail(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "highpri", "normal"}, order)
}

func TestWorkqueue_CancelSyncBeforeStart(t *testing.T) {
	pool := NewPool("wq-test3", 1, time.Second, linmetric.NewScope("corert.test.wq3"))
	defer pool.Stop()
	wq := NewWorkqueue("cancel", pool, 1, nil, linmetric.NewScope("corert.test.wq3.scope"))

	blocker := make(chan struct{})
	wq.Queue(NewWork(func() { <-blocker }, FlagNone))

	ran := int32(0)
	w := NewWork(func() { atomic.StoreInt32(&ran, 1) }, FlagNone)
	wq.Queue(w)
	wq.CancelSync(w)

	close(blocker)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestWorkqueue_DrainWaitsForOutstandingWork(t *testing.T) {
	pool := NewPool("wq-test4", 4, time.Second, linmetric.NewScope("corert.test.wq4"))
	defer pool.Stop()
	wq := NewWorkqueue("drain", pool, 4, nil, linmetric.NewScope("corert.test.wq4.scope"))

	var done int32
	for i := 0; i < 4; i++ {
		wq.Queue(NewWork(func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&done, 1)
		}, FlagNone))
	}
	wq.Drain()
	assert.Equal(t, int32(4), atomic.LoadInt32(&done))
}

// TestWorkqueue_QueueDelayedDispatchesAfterDelay covers spec scenario
// 3: a DelayedWork's function runs roughly delay after QueueDelayed,
// and Pending() transitions true -> false around that dispatch instant.
func TestWorkqueue_QueueDelayedDispatchesAfterDelay(t *testing.T) {
	pool := NewPool("wq-test5", 4, time.Second, linmetric.NewScope("corert.test.wq5"))
	defer pool.Stop()
	timers := newTestTimerService(t)
	wq := NewWorkqueue("delayed", pool, 4, timers, linmetric.NewScope("corert.test.wq5.scope"))

	ran := make(chan time.Time, 1)
	dw := NewDelayedWork(func() { ran <- time.Now() }, FlagNone)

	start := time.Now()
	wq.QueueDelayed(dw, 30*time.Millisecond)
	assert.True(t, dw.Pending(), "delayed work must be pending as soon as it is armed")

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 25*time.Millisecond)
		assert.Less(t, at.Sub(start), 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed work never ran")
	}

	waitUntilNotPending(t, &dw.Work, time.Second)
}

// TestWorkqueue_CancelDelayedSyncBeforeFireNeverRuns verifies a
// DelayedWork cancelled before its timer fires never runs and is no
// longer reported pending.
func TestWorkqueue_CancelDelayedSyncBeforeFireNeverRuns(t *testing.T) {
	pool := NewPool("wq-test6", 4, time.Second, linmetric.NewScope("corert.test.wq6"))
	defer pool.Stop()
	timers := newTestTimerService(t)
	wq := NewWorkqueue("delayed-cancel", pool, 4, timers, linmetric.NewScope("corert.test.wq6.scope"))

	ran := int32(0)
	dw := NewDelayedWork(func() { atomic.StoreInt32(&ran, 1) }, FlagNone)

	wq.QueueDelayed(dw, 50*time.Millisecond)
	wq.CancelDelayedSync(dw)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
	assert.False(t, dw.Pending())
}

func waitUntilNotPending(t *testing.T, w *Work, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !w.Pending() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("work never transitioned to not-pending")
}

func testScope(t *testing.T) linmetric.Scope {
	t.Helper()
	return linmetric.NewScope("corert.test.wq." + t.Name())
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
	case <-time.After(d):
		t.Fatal("timed out waiting for work to complete")
	}
}
