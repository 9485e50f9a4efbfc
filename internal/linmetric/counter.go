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

package linmetric

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// BoundCounter is a monotonic counter reported as its running total.
type BoundCounter struct {
	c   prometheus.Counter
	val atomic.Float64
}

// Incr adds one to the counter.
func (c *BoundCounter) Incr() { c.Add(1) }

// Add adds delta (must be >= 0) to the counter.
func (c *BoundCounter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.val.Add(delta)
	c.c.Add(delta)
}

// Get returns the counter's running total.
func (c *BoundCounter) Get() float64 {
	return c.val.Load()
}

// BoundDeltaCounter is a monotonic counter whose Get reports the delta
// accumulated since the last call, for scrape-and-reset style exporters.
type BoundDeltaCounter struct {
	counter *BoundCounter
	last    atomic.Float64
}

// Incr adds one.
func (c *BoundDeltaCounter) Incr() { c.counter.Incr() }

// Add adds delta (must be >= 0).
func (c *BoundDeltaCounter) Add(delta float64) { c.counter.Add(delta) }

// Get returns the increase in total since the previous Get call.
func (c *BoundDeltaCounter) Get() float64 {
	total := c.counter.Get()
	prev := c.last.Swap(total)
	return total - prev
}
