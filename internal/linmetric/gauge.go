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

// BoundGauge is a gauge already bound to its scope's label set.
type BoundGauge struct {
	g   prometheus.Gauge
	val atomic.Float64
}

// Incr adds one to the gauge.
func (g *BoundGauge) Incr() { g.Add(1) }

// Decr subtracts one from the gauge.
func (g *BoundGauge) Decr() { g.Add(-1) }

// Add adds delta (which may be negative) to the gauge.
func (g *BoundGauge) Add(delta float64) {
	g.val.Add(delta)
	g.g.Add(delta)
}

// Update sets the gauge to an absolute value.
func (g *BoundGauge) Update(v float64) {
	g.val.Store(v)
	g.g.Set(v)
}

// Get returns the gauge's current value, as tracked locally.
func (g *BoundGauge) Get() float64 {
	return g.val.Load()
}
