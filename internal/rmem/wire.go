// Copyright (C) 2024 Database Systems Group.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package rmem implements the one-sided remote-memory transport: a
// passive memory-node Server exposing READ/WRITE/CAS over its raw
// arena, and a client QueuePair that posts those operations
// asynchronously and demultiplexes completions by work-request id.
//
// No verbs/RDMA library appears anywhere in the retrieved reference
// pack, so the fabric is realized as a small framed TCP protocol; see
// DESIGN.md. Frames mirror tenant/tnproto's fixed-header,
// magic-number style, generalized from one in-flight request to a
// fully pipelined queue of them.
package rmem

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameMagic distinguishes this protocol's frames from stray bytes on
// a misconnected socket.
const frameMagic uint32 = 0x524d454d // "RMEM"

// Opcode identifies the kind of operation a frame carries.
type Opcode uint8

const (
	OpRead Opcode = iota + 1
	OpWrite
	OpCAS
	// OpSend carries a two-sided query-distribution payload (see
	// PeerConn/PeerListener): unlike OpRead/OpWrite/OpCAS, it targets a
	// compute peer rather than a memory-node arena and generates no
	// response frame.
	OpSend

	// opResp is ORed onto a request's opcode to mark its response.
	opResp Opcode = 0x80
)

// requestHeader is the fixed-size prefix of every request frame.
// Field layout, little-endian:
//
//	magic(4) opcode(1) _pad(3) wrID(8) node(4) offset(8) length(4)
//
// followed by `length` bytes of payload for WRITE/SEND/CAS-operand
// frames.
const reqHeaderSize = 4 + 1 + 3 + 8 + 4 + 8 + 4

type requestHeader struct {
	Opcode Opcode
	WRID   uint64
	Node   uint32
	Offset uint64
	Length uint32
}

func (h requestHeader) marshal() []byte {
	buf := make([]byte, reqHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], frameMagic)
	buf[4] = byte(h.Opcode)
	binary.LittleEndian.PutUint64(buf[8:], h.WRID)
	binary.LittleEndian.PutUint32(buf[16:], h.Node)
	binary.LittleEndian.PutUint64(buf[20:], h.Offset)
	binary.LittleEndian.PutUint32(buf[28:], h.Length)
	return buf
}

func readRequestHeader(r io.Reader) (requestHeader, error) {
	buf := make([]byte, reqHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return requestHeader{}, err
	}
	if got := binary.LittleEndian.Uint32(buf[0:]); got != frameMagic {
		return requestHeader{}, fmt.Errorf("rmem: bad frame magic %#x", got)
	}
	return requestHeader{
		Opcode: Opcode(buf[4]),
		WRID:   binary.LittleEndian.Uint64(buf[8:]),
		Node:   binary.LittleEndian.Uint32(buf[16:]),
		Offset: binary.LittleEndian.Uint64(buf[20:]),
		Length: binary.LittleEndian.Uint32(buf[28:]),
	}, nil
}

// responseHeader is the fixed-size prefix of every response frame.
// Field layout, little-endian:
//
//	magic(4) opcode(1) status(1) _pad(2) wrID(8) casOld(8) length(4)
const respHeaderSize = 4 + 1 + 1 + 2 + 8 + 8 + 4

// Status codes carried in a response frame.
const (
	StatusOK uint8 = iota
	StatusError
)

type responseHeader struct {
	Opcode Opcode
	Status uint8
	WRID   uint64
	CASOld uint64
	Length uint32
}

func (h responseHeader) marshal() []byte {
	buf := make([]byte, respHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], frameMagic)
	buf[4] = byte(h.Opcode)
	buf[5] = h.Status
	binary.LittleEndian.PutUint64(buf[8:], h.WRID)
	binary.LittleEndian.PutUint64(buf[16:], h.CASOld)
	binary.LittleEndian.PutUint32(buf[24:], h.Length)
	return buf
}

func readResponseHeader(r io.Reader) (responseHeader, error) {
	buf := make([]byte, respHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return responseHeader{}, err
	}
	if got := binary.LittleEndian.Uint32(buf[0:]); got != frameMagic {
		return responseHeader{}, fmt.Errorf("rmem: bad frame magic %#x", got)
	}
	return responseHeader{
		Opcode: Opcode(buf[4]),
		Status: buf[5],
		WRID:   binary.LittleEndian.Uint64(buf[8:]),
		CASOld: binary.LittleEndian.Uint64(buf[16:]),
		Length: binary.LittleEndian.Uint32(buf[24:]),
	}, nil
}
