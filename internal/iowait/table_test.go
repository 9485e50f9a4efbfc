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

package iowait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTable_RegisterPostWaitHappyPath(t *testing.T) {
	tbl := NewTable()
	w := tbl.Register(1, 42)

	go func() {
		time.Sleep(10 * time.Millisecond)
		err := tbl.Post(1, 42, []byte("response"))
		assert.NoError(t, err)
	}()

	data, err := tbl.Wait(w, 64, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "response", string(data))
}

func TestTable_WaitTimesOutWithoutPost(t *testing.T) {
	tbl := NewTable()
	w := tbl.Register(1, 7)

	_, err := tbl.Wait(w, 64, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTable_PostTruncatesToWatcherCapacity(t *testing.T) {
	tbl := NewTable()
	w := tbl.Register(2, 1)

	go tbl.Post(2, 1, []byte("0123456789"))

	data, err := tbl.Wait(w, 4, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestTable_PostWithNoWatcherReturnsError(t *testing.T) {
	tbl := NewTable()
	err := tbl.Post(9, 9, []byte("x"))
	assert.ErrorIs(t, err, ErrNoWatcher)
}

func TestTable_WaitUnregistersEvenOnTimeout(t *testing.T) {
	tbl := NewTable()
	w := tbl.Register(3, 3)
	_, _ = tbl.Wait(w, 0, 10*time.Millisecond)

	// a post arriving after the timed-out Wait should find nothing
	err := tbl.Post(3, 3, []byte("late"))
	assert.ErrorIs(t, err, ErrNoWatcher)
}
