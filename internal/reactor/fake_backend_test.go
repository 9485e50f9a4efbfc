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

package reactor

import (
	"sync"

	"github.com/hoyleeson/corert/internal/linmetric"
	"github.com/hoyleeson/corert/pkg/logger"
)

// fakeBackend is an in-memory backend double: tests push readiness via
// deliver and each wait() call returns the next pushed batch, blocking
// until one has been pushed.
type fakeBackend struct {
	mu      sync.Mutex
	masks   map[int]EventMask
	pending chan []readyFd
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		masks:   make(map[int]EventMask),
		pending: make(chan []readyFd, 16),
	}
}

func (b *fakeBackend) add(fd int, mask EventMask) error {
	b.mu.Lock()
	b.masks[fd] = mask
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) modify(fd int, mask EventMask) error {
	return b.add(fd, mask)
}

func (b *fakeBackend) remove(fd int) error {
	b.mu.Lock()
	delete(b.masks, fd)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) wait(ctlFd int) ([]readyFd, error) {
	return <-b.pending, nil
}

func (b *fakeBackend) close() error { return nil }

// deliver queues a readiness batch for the next wait() call to return.
func (b *fakeBackend) deliver(ready []readyFd) {
	b.pending <- ready
}

func newTestReactor() (*Reactor, *fakeBackend) {
	be := newFakeBackend()
	r := &Reactor{
		backend: be,
		ctlR:    -1,
		ctlW:    -1,
		hooks:   make(map[int]*hook),
		ctl:     make(chan ctlCmd, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.log = logger.GetLogger("reactor", "test")
	r.dispatched = linmetric.NewScope("corert.test.reactor").NewDeltaCounter("events_dispatched")
	return r, be
}
