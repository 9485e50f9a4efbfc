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

// Package iowait is the request/response rendezvous table: a caller
// registers a Watcher keyed by (type, seq) before sending a request, then
// blocks for the matching response to be posted from the reactor or an io
// handler callback, mirroring src/iowait.c.
package iowait

import (
	"container/list"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash"
)

// slotCapacity mirrors RES_SLOT_CAPACITY = 1 << RES_SLOT_SHIFT.
const slotCapacity = 64

// DefaultDeadline mirrors WAIT_RES_DEAD_LINE's 5-second default.
const DefaultDeadline = 5 * time.Second

// ErrNoWatcher is returned by Post when no watcher is registered for the
// given (type, seq).
var ErrNoWatcher = errors.New("iowait: no watcher registered")

// ErrTimeout is returned by Wait when the deadline elapses before a
// response is posted.
var ErrTimeout = errors.New("iowait: timed out waiting for response")

// Watcher is a single outstanding request, registered before the request
// is sent and consumed by the first matching Post call or by timeout.
type Watcher struct {
	Type int
	Seq  int

	mu      sync.Mutex
	result  []byte
	done    chan struct{}
	posted  bool
	elem    *list.Element
}

func newWatcher(typ, seq int) *Watcher {
	return &Watcher{Type: typ, Seq: seq, done: make(chan struct{})}
}

func slotKey(typ, seq int) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(typ))
	binary.LittleEndian.PutUint32(b[4:8], uint32(seq))
	return xxhash.Sum64(b[:])
}

// Table is the fixed-size hash-bucket rendezvous index.
type Table struct {
	mu    sync.Mutex
	slots [slotCapacity]list.List
}

// NewTable returns an empty rendezvous table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) bucket(typ, seq int) *list.List {
	idx := slotKey(typ, seq) % slotCapacity
	return &t.slots[idx]
}

// Register arms a watcher for (typ, seq). The caller must eventually call
// Wait (which unregisters unconditionally, matching wait_for_response_data
// unlinking the watcher regardless of whether it timed out).
func (t *Table) Register(typ, seq int) *Watcher {
	w := newWatcher(typ, seq)

	t.mu.Lock()
	w.elem = t.bucket(typ, seq).PushBack(w)
	t.mu.Unlock()
	return w
}

// Wait blocks for a response to w, up to deadline, then unregisters w
// unconditionally. It returns the posted bytes truncated to at most cap
// (cap <= 0 means no truncation), or ErrTimeout.
func (t *Table) Wait(w *Watcher, cap int, deadline time.Duration) ([]byte, error) {
	var result []byte
	var err error

	select {
	case <-w.done:
		w.mu.Lock()
		result = w.result
		w.mu.Unlock()
		if cap > 0 && len(result) > cap {
			result = result[:cap]
		}
	case <-time.After(deadline):
		err = ErrTimeout
	}

	t.mu.Lock()
	if w.elem != nil {
		t.bucket(w.Type, w.Seq).Remove(w.elem)
		w.elem = nil
	}
	t.mu.Unlock()

	return result, err
}

// WaitDefault is Wait using the package default deadline.
func (t *Table) WaitDefault(w *Watcher, cap int) ([]byte, error) {
	return t.Wait(w, cap, DefaultDeadline)
}

// Post delivers a full copy of result to the first registered watcher
// matching (typ, seq); truncation to the waiter's capacity happens in
// Wait, which returns min(cap, len(result)) bytes, matching the source's
// "count = min(count, posted)" rule. Returns ErrNoWatcher if nothing is
// registered.
func (t *Table) Post(typ, seq int, result []byte) error {
	t.mu.Lock()
	bucket := t.bucket(typ, seq)
	var found *Watcher
	for e := bucket.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Watcher)
		if w.Type == typ && w.Seq == seq {
			found = w
			break
		}
	}
	t.mu.Unlock()

	if found == nil {
		return ErrNoWatcher
	}

	found.mu.Lock()
	if found.posted {
		found.mu.Unlock()
		return nil
	}
	found.posted = true
	found.result = append([]byte(nil), result...)
	found.mu.Unlock()

	close(found.done)
	return nil
}
