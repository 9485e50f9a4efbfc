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

//go:build linux

package timer

import (
	"time"

	"golang.org/x/sys/unix"
)

// newTimerfd creates a monotonic, non-blocking timerfd standing in for
// the source's single backing kernel timer, registered with the reactor
// exactly like epoll_linux.go registers the control pipe.
func newTimerfd() (int, error) {
	return unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
}

// armTimerfd reprograms fd to fire once after d. d is clamped to at
// least 1ns: TimerfdSettime treats an all-zero ItimerSpec.Value as
// "disarm", so a deadline that has already passed must still arm for
// the shortest possible delay rather than silently going inert.
func armTimerfd(fd int, d time.Duration) error {
	if d <= 0 {
		d = 1
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	return unix.TimerfdSettime(fd, 0, &spec, nil)
}

// disarmTimerfd stops fd from firing until the next armTimerfd.
func disarmTimerfd(fd int) error {
	return unix.TimerfdSettime(fd, 0, &unix.ItimerSpec{}, nil)
}

// drainTimerfd reads and discards the expiration counter a readable
// timerfd delivers, mirroring the self-pipe drain in epoll_linux.go's
// wait().
func drainTimerfd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func closeTimerfd(fd int) error {
	return unix.Close(fd)
}
