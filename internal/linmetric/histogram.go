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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BoundHistogram tracks a distribution of observed values (durations,
// sizes) bucketed for reporting. Bucket layout defaults to
// prometheus.DefBuckets and may be changed via WithLinearBuckets or
// WithExponentBuckets before the first Update call; after that the
// layout is fixed.
type BoundHistogram struct {
	scope   *scope
	name    string
	buckets []float64

	mu       sync.Mutex
	observer prometheus.Observer
	count    uint64
	sum      float64
}

// WithLinearBuckets lays out count buckets of width width, starting at
// start.
func (h *BoundHistogram) WithLinearBuckets(start, width float64, count int) *BoundHistogram {
	h.buckets = prometheus.LinearBuckets(start, width, count)
	return h
}

// WithExponentBuckets lays out count buckets starting at start, each
// factor times the previous.
func (h *BoundHistogram) WithExponentBuckets(start, factor float64, count int) *BoundHistogram {
	h.buckets = prometheus.ExponentialBuckets(start, factor, count)
	return h
}

func (h *BoundHistogram) ensure() prometheus.Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.observer != nil {
		return h.observer
	}
	labels := h.scope.labels()
	names, values := labelNamesAndValues(labels)

	histosMu.Lock()
	vec := histogramVecForLocked(h.scope.fqName(h.name), names, h.buckets)
	histosMu.Unlock()

	obs, _ := vec.GetMetricWithLabelValues(values...)
	h.observer = obs
	return obs
}

// Update records a single observation of v, in the histogram's native
// unit (callers decide whether that's ms, seconds, or a raw count).
func (h *BoundHistogram) Update(v float64) {
	h.ensure().Observe(v)
	h.mu.Lock()
	h.count++
	h.sum += v
	h.mu.Unlock()
}

// UpdateDuration records d converted to milliseconds.
func (h *BoundHistogram) UpdateDuration(d time.Duration) {
	h.Update(float64(d.Milliseconds()))
}

// UpdateMilliseconds records ms directly.
func (h *BoundHistogram) UpdateMilliseconds(ms int64) {
	h.Update(float64(ms))
}

// UpdateSeconds records s directly.
func (h *BoundHistogram) UpdateSeconds(s float64) {
	h.Update(s)
}

// UpdateSince records the milliseconds elapsed since start.
func (h *BoundHistogram) UpdateSince(start time.Time) {
	h.UpdateDuration(time.Since(start))
}

// Observe runs fn and records its wall-clock duration in milliseconds.
func (h *BoundHistogram) Observe(fn func()) {
	start := time.Now()
	fn()
	h.UpdateSince(start)
}

// Count returns the number of observations recorded so far.
func (h *BoundHistogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the running sum of observed values.
func (h *BoundHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
