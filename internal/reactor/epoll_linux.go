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

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollInitialEvents is the initial size of the events buffer handed to
// EpollWait; epollGrow is poller_grow's new_max = old_max + (old_max>>1) + 4
// growth factor, applied to that buffer.
const epollInitialEvents = 16

func epollGrow(old int) int {
	return old + (old >> 1) + 4
}

type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

func toEpollEvents(mask EventMask) uint32 {
	var e uint32
	if mask&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if mask&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	if mask&EventError != 0 {
		e |= unix.EPOLLERR
	}
	if mask&EventHup != 0 {
		e |= unix.EPOLLHUP
	}
	return e
}

func fromEpollEvents(e uint32) EventMask {
	var m EventMask
	if e&unix.EPOLLIN != 0 {
		m |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		m |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		m |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		m |= EventHup
	}
	return m
}

func (b *epollBackend) add(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask) | unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) modify(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (b *epollBackend) remove(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) wait(ctlFd int) ([]readyFd, error) {
	n, err := unix.EpollWait(b.epfd, b.events, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	if n == len(b.events) {
		b.events = make([]unix.EpollEvent, epollGrow(len(b.events)))
	}

	out := make([]readyFd, 0, n)
	for i := 0; i < n; i++ {
		ev := b.events[i]
		if int(ev.Fd) == ctlFd {
			var buf [64]byte
			for {
				if _, err := unix.Read(ctlFd, buf[:]); err != nil {
					break
				}
			}
			continue
		}
		out = append(out, readyFd{fd: int(ev.Fd), events: fromEpollEvents(ev.Events)})
	}
	return out, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}

// newEpollBackend creates the epoll set plus a self-pipe used to wake a
// blocked EpollWait from another goroutine, standing in for the source's
// control-socket pair (ctl_socks[0]/ctl_socks[1]).
func newEpollBackend() (backend, int, int, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, 0, 0, err
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, 0, 0, err
	}

	b := &epollBackend{epfd: epfd, events: make([]unix.EpollEvent, epollInitialEvents)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fds[0])}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fds[0], &ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, 0, 0, err
	}
	return b, fds[0], fds[1], nil
}

func wakeBackend(ctlW int) {
	if ctlW < 0 {
		return
	}
	_, _ = unix.Write(ctlW, []byte{1})
}
