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

// Package errs names an error-kind taxonomy of sentinels that callers can
// errors.Is against instead of matching strings. Within this module only
// ErrIO is used, as a log field by internal/frag; the other packages
// return their own errors.
package errs

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("corert: invalid argument")
	// ErrWouldBlock is returned by non-blocking operations that found
	// nothing available (e.g. a queue pop with no blocking semantics).
	ErrWouldBlock = errors.New("corert: would block")
	// ErrTimedOut is returned when a bounded wait elapses with no signal.
	ErrTimedOut = errors.New("corert: timed out")
	// ErrNotFound is returned when a keyed lookup has no matching entry.
	ErrNotFound = errors.New("corert: not found")
	// ErrDuplicate is returned for a second registration where only one is
	// permitted.
	ErrDuplicate = errors.New("corert: duplicate")
	// ErrResourceExhausted is returned when a limited pool has no blocks
	// left to hand out.
	ErrResourceExhausted = errors.New("corert: resource exhausted")
	// ErrPeerClosed is reported to close callbacks on a clean peer close.
	ErrPeerClosed = errors.New("corert: peer closed")
	// ErrIO wraps an underlying I/O failure (read/write/reassembly).
	ErrIO = errors.New("corert: i/o error")
	// ErrShuttingDown is returned when submitting to a component that is
	// tearing down.
	ErrShuttingDown = errors.New("corert: shutting down")
)
