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

// Package linmetric is the runtime's internal instrumentation surface: a
// lightweight scope/metric API backed by github.com/prometheus/client_golang
// so components register counters, gauges and histograms without reaching
// for the prometheus API directly.
package linmetric

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a named namespace for metrics, carrying an ordered set of
// key/value tags that are applied as constant labels to every metric
// created under it.
type Scope interface {
	// Scope returns a child scope, appending name and kvs to this scope's
	// own name/tags.
	Scope(name string, kvs ...string) Scope
	// NewGauge registers (or returns the existing) bound gauge under this
	// scope.
	NewGauge(name string) *BoundGauge
	// NewDeltaCounter registers a monotonic counter reported as the delta
	// since the last scrape.
	NewDeltaCounter(name string) *BoundDeltaCounter
	// NewCumulativeCounter registers a monotonic counter reported as its
	// running total.
	NewCumulativeCounter(name string) *BoundCounter
	// NewDeltaHistogram returns the same cumulative histogram as
	// NewCumulativeHistogram; nothing resets it on scrape.
	NewDeltaHistogram(name string) *BoundHistogram
	// NewCumulativeHistogram registers a histogram whose buckets accumulate
	// for the process lifetime.
	NewCumulativeHistogram(name string) *BoundHistogram
}

// registry is the package's own prometheus registry (not
// prometheus.DefaultGatherer); every metric vector created through a
// Scope is registered here.
var registry = prometheus.NewRegistry()

func init() {
	_ = registry
}

type scope struct {
	name string
	tags []string // flattened key,value,key,value...
}

// NewScope returns a root scope. kvs must be an even-length list of
// key/value tag pairs.
func NewScope(name string, kvs ...string) Scope {
	return &scope{name: name, tags: append([]string(nil), kvs...)}
}

func (s *scope) Scope(name string, kvs ...string) Scope {
	child := &scope{
		name: s.name + "." + name,
		tags: append(append([]string(nil), s.tags...), kvs...),
	}
	return child
}

func (s *scope) fqName(metric string) string {
	return sanitize(s.name) + "_" + sanitize(metric)
}

func (s *scope) labels() prometheus.Labels {
	l := make(prometheus.Labels, len(s.tags)/2)
	for i := 0; i+1 < len(s.tags); i += 2 {
		l[s.tags[i]] = s.tags[i+1]
	}
	return l
}

func sanitize(s string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_").Replace(s)
}

var (
	gaugesMu sync.Mutex
	gauges   = map[string]*prometheus.GaugeVec{}
	boundGauges = map[string]*BoundGauge{}

	countersMu sync.Mutex
	counters   = map[string]*prometheus.CounterVec{}
	boundCounters = map[string]*BoundCounter{}
	boundDeltaCounters = map[string]*BoundDeltaCounter{}

	histosMu sync.Mutex
	histos   = map[string]*prometheus.HistogramVec{}
	boundHistograms = map[string]*BoundHistogram{}
)

// boundKey identifies a single bound metric instance: its fully-qualified
// name plus its resolved label values, in the stable order produced by
// labelNamesAndValues.
func boundKey(fqName string, values []string) string {
	key := fqName
	for _, v := range values {
		key += "\x00" + v
	}
	return key
}

// gaugeVecForLocked requires the caller to hold gaugesMu.
func gaugeVecForLocked(fqName string, labelNames []string) *prometheus.GaugeVec {
	if v, ok := gauges[fqName]; ok {
		return v
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: fqName}, labelNames)
	_ = registry.Register(v)
	gauges[fqName] = v
	return v
}

// counterVecForLocked requires the caller to hold countersMu.
func counterVecForLocked(fqName string, labelNames []string) *prometheus.CounterVec {
	if v, ok := counters[fqName]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: fqName}, labelNames)
	_ = registry.Register(v)
	counters[fqName] = v
	return v
}

// histogramVecForLocked requires the caller to hold histosMu.
func histogramVecForLocked(fqName string, labelNames []string, buckets []float64) *prometheus.HistogramVec {
	if v, ok := histos[fqName]; ok {
		return v
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: fqName, Buckets: buckets}, labelNames)
	_ = registry.Register(v)
	histos[fqName] = v
	return v
}

func labelNamesAndValues(l prometheus.Labels) ([]string, []string) {
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = l[k]
	}
	return names, values
}

func (s *scope) NewGauge(name string) *BoundGauge {
	fqName := s.fqName(name)
	names, values := labelNamesAndValues(s.labels())
	key := boundKey(fqName, values)

	gaugesMu.Lock()
	defer gaugesMu.Unlock()
	if b, ok := boundGauges[key]; ok {
		return b
	}
	vec := gaugeVecForLocked(fqName, names)
	g, _ := vec.GetMetricWithLabelValues(values...)
	b := &BoundGauge{g: g}
	boundGauges[key] = b
	return b
}

func (s *scope) NewDeltaCounter(name string) *BoundDeltaCounter {
	fqName := s.fqName(name)
	names, values := labelNamesAndValues(s.labels())
	key := boundKey(fqName, values)

	countersMu.Lock()
	defer countersMu.Unlock()
	if b, ok := boundDeltaCounters[key]; ok {
		return b
	}
	vec := counterVecForLocked(fqName, names)
	c, _ := vec.GetMetricWithLabelValues(values...)
	b := &BoundDeltaCounter{counter: &BoundCounter{c: c}}
	boundDeltaCounters[key] = b
	return b
}

func (s *scope) NewCumulativeCounter(name string) *BoundCounter {
	fqName := s.fqName(name)
	names, values := labelNamesAndValues(s.labels())
	key := boundKey(fqName, values)

	countersMu.Lock()
	defer countersMu.Unlock()
	if b, ok := boundCounters[key]; ok {
		return b
	}
	vec := counterVecForLocked(fqName, names)
	c, _ := vec.GetMetricWithLabelValues(values...)
	b := &BoundCounter{c: c}
	boundCounters[key] = b
	return b
}

func (s *scope) NewDeltaHistogram(name string) *BoundHistogram {
	return s.boundHistogram(name)
}

func (s *scope) NewCumulativeHistogram(name string) *BoundHistogram {
	return s.boundHistogram(name)
}

func (s *scope) boundHistogram(name string) *BoundHistogram {
	fqName := s.fqName(name)
	names, values := labelNamesAndValues(s.labels())
	key := boundKey(fqName, values)

	histosMu.Lock()
	defer histosMu.Unlock()
	if b, ok := boundHistograms[key]; ok {
		return b
	}
	b := &BoundHistogram{
		scope:   s,
		name:    name,
		buckets: prometheus.DefBuckets,
	}
	boundHistograms[key] = b
	return b
}
