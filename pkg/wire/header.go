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

// Package wire defines the fixed-size packet header every frame on the
// wire carries ahead of its payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a corert frame; any other value at offset 0 means the
// peer is speaking a different protocol or the stream has desynced.
const Magic uint16 = 0x2016

// Version is the only header layout this package understands.
const Version uint8 = 1

// HeaderSize is the encoded size of Header, in bytes.
const HeaderSize = 12

// Type enumerates the frame kinds a Header may carry.
type Type uint8

const (
	TypeData Type = iota
	TypeControl
	TypeFragment
	TypeAck
)

// Header is the 12-byte frame preamble: magic(2) version(1) type(1)
// seqnum(2) checksum(1) reserved(1) datalen(4), all little-endian.
type Header struct {
	Version  uint8
	Type     Type
	Seqnum   uint16
	Checksum uint8
	DataLen  uint32
}

// Encode writes h into a freshly allocated HeaderSize-byte slice.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = h.Version
	buf[3] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[4:6], h.Seqnum)
	buf[6] = h.Checksum
	buf[7] = 0 // reserved
	binary.LittleEndian.PutUint32(buf[8:12], h.DataLen)
	return buf
}

// Decode parses a Header from the front of buf, which must be at least
// HeaderSize bytes.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: got %d bytes, want %d", len(buf), HeaderSize)
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	if magic != Magic {
		return Header{}, fmt.Errorf("wire: bad magic %#x, want %#x", magic, Magic)
	}
	return Header{
		Version:  buf[2],
		Type:     Type(buf[3]),
		Seqnum:   binary.LittleEndian.Uint16(buf[4:6]),
		Checksum: buf[6],
		DataLen:  binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Checksum8 is a simple additive checksum over data, truncated to a
// byte: enough to catch accidental corruption on a trusted transport,
// not a cryptographic guarantee.
func Checksum8(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}
