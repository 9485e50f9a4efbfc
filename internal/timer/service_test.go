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

package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/internal/reactor"
	"github.com/stretchr/testify/assert"
)

// newTestService builds a Service backed by a real reactor, cleaning
// both up when the test ends.
func newTestService(t *testing.T) *Service {
	t.Helper()
	r, err := reactor.New(linmetric.NewScope("corert.test.timer." + t.Name()))
	assert.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Stop)

	s, err := NewService(r)
	assert.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestService_FiresInDeadlineOrder(t *testing.T) {
	s := newTestService(t)

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	s.AddAfter(30*time.Millisecond, func(*Timer) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		wg.Done()
	})
	s.AddAfter(10*time.Millisecond, func(*Timer) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	})
	s.AddAfter(20*time.Millisecond, func(*Timer) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		wg.Done()
	})

	waitOrTimeout(t, &wg, time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestService_DelCancelsBeforeFire(t *testing.T) {
	s := newTestService(t)

	fired := make(chan struct{}, 1)
	tm := s.AddAfter(20*time.Millisecond, func(*Timer) {
		fired <- struct{}{}
	})
	assert.True(t, s.Del(tm), "Del of a pending timer must report was_pending=true")
	assert.False(t, s.Del(tm), "Del of an already-deleted timer must report was_pending=false")

	select {
	case <-fired:
		t.Fatal("deleted timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestService_ModReschedules(t *testing.T) {
	s := newTestService(t)

	fired := make(chan time.Time, 1)
	tm := s.AddAfter(200*time.Millisecond, func(*Timer) {
		fired <- time.Now()
	})
	start := time.Now()
	assert.True(t, s.Mod(tm, time.Now().Add(10*time.Millisecond)), "Mod of a pending timer must report was_pending=true")

	select {
	case at := <-fired:
		assert.Less(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after reschedule")
	}
}

func TestService_ModSameDeadlineIsNoopFastPath(t *testing.T) {
	s := newTestService(t)

	deadline := time.Now().Add(time.Hour)
	tm := s.Add(deadline, func(*Timer) {})
	defer s.Del(tm)

	assert.True(t, s.Mod(tm, deadline))
	assert.Equal(t, deadline, tm.Deadline(), "deadline must be untouched by the same-deadline fast path")
}

func TestService_ModOnFiredTimerReportsNotPending(t *testing.T) {
	s := newTestService(t)

	fired := make(chan struct{}, 1)
	tm := s.AddAfter(5*time.Millisecond, func(*Timer) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(10 * time.Millisecond) // let sweep() clear pending before Mod races it

	assert.False(t, s.Mod(tm, time.Now().Add(time.Hour)))
	assert.True(t, tm.Pending(), "re-armed timer must be pending again after Mod")
}

func TestService_IntervalRepeats(t *testing.T) {
	s := newTestService(t)

	var count int
	var mu sync.Mutex
	done := make(chan struct{})
	tm := s.AddInterval(10*time.Millisecond, func(*Timer) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n >= 3 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer s.Del(tm)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interval timer did not repeat")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
	case <-time.After(d):
		t.Fatal("timed out waiting")
	}
}
