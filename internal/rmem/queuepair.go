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

package rmem

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// DefaultMaxSendQueueWR is the default outstanding-post throttle
// (spec.md §6's max_send_queue_wr default).
const DefaultMaxSendQueueWR = 1024

// pending tracks the local side-effect of one in-flight request:
// where a READ's payload should land, so the read-loop goroutine can
// copy it in before signaling completion.
type pending struct {
	dst []byte
}

// QueuePair is a client's private connection to one memory node: its
// own net.Conn, its own completion queue, and its own
// outstanding-post/outstanding-CAS counters. Per spec.md §5, a
// QueuePair is owned by exactly one compute thread; it is not safe
// for concurrent Post calls from multiple goroutines (the read-loop
// goroutine is the only other goroutine touching it, and it never
// calls Post).
type QueuePair struct {
	conn net.Conn
	cq   *CQ

	maxSendWR int

	writeMu sync.Mutex

	outstandingPosts int64 // atomic
	outstandingCAS   int64 // atomic

	pendingMu sync.Mutex
	pendingOp map[uint64]*pending

	readErr atomic.Value // error
}

// Dial connects to a memory node's Server and returns a QueuePair
// bound to it.
func Dial(addr string, maxSendWR int) (*QueuePair, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rmem: dial %s: %w", addr, err)
	}
	return newQueuePair(conn, maxSendWR), nil
}

func newQueuePair(conn net.Conn, maxSendWR int) *QueuePair {
	if maxSendWR <= 0 {
		maxSendWR = DefaultMaxSendQueueWR
	}
	qp := &QueuePair{
		conn:      conn,
		cq:        NewCQ(maxSendWR * 2),
		maxSendWR: maxSendWR,
		pendingOp: make(map[uint64]*pending),
	}
	go qp.readLoop()
	return qp
}

// Close tears down the underlying connection.
func (qp *QueuePair) Close() error {
	return qp.conn.Close()
}

// CQ returns the queue pair's completion queue.
func (qp *QueuePair) CQ() *CQ { return qp.cq }

// OutstandingPosts returns the current outstanding-post count.
func (qp *QueuePair) OutstandingPosts() int64 {
	return atomic.LoadInt64(&qp.outstandingPosts)
}

// OutstandingCAS returns the current outstanding-CAS count.
func (qp *QueuePair) OutstandingCAS() int64 {
	return atomic.LoadInt64(&qp.outstandingCAS)
}

// Throttle spins, draining completions via fn, until the outstanding
// post count falls below the configured max_send_queue_wr.
func (qp *QueuePair) Throttle(fn func(Completion)) {
	for qp.OutstandingPosts() >= int64(qp.maxSendWR) {
		qp.cq.Drain(fn)
	}
}

func (qp *QueuePair) writeFrame(h requestHeader, payload []byte) error {
	qp.writeMu.Lock()
	defer qp.writeMu.Unlock()
	if _, err := qp.conn.Write(h.marshal()); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := qp.conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Read posts an asynchronous READ of len(dst) bytes at (node, offset)
// into dst, tagged with wrID. The completion arrives on qp.CQ() once
// dst has been filled.
func (qp *QueuePair) Read(node uint32, offset uint64, dst []byte, wrID uint64) error {
	qp.pendingMu.Lock()
	qp.pendingOp[wrID] = &pending{dst: dst}
	qp.pendingMu.Unlock()
	atomic.AddInt64(&qp.outstandingPosts, 1)
	h := requestHeader{Opcode: OpRead, WRID: wrID, Node: node, Offset: offset, Length: uint32(len(dst))}
	if err := qp.writeFrame(h, nil); err != nil {
		atomic.AddInt64(&qp.outstandingPosts, -1)
		return fmt.Errorf("rmem: post read: %w", err)
	}
	return nil
}

// Write posts a WRITE of src to (node, offset), tagged with wrID. If
// signaled is false, no completion is generated (fire-and-forget,
// used for the free list's inline next[] link).
func (qp *QueuePair) Write(node uint32, offset uint64, src []byte, wrID uint64, signaled bool) error {
	if signaled {
		atomic.AddInt64(&qp.outstandingPosts, 1)
	}
	h := requestHeader{Opcode: OpWrite, WRID: wrID, Node: node, Offset: offset, Length: uint32(len(src))}
	if !signaled {
		h.Length |= unsignaledFlag
	}
	if err := qp.writeFrame(h, src); err != nil {
		if signaled {
			atomic.AddInt64(&qp.outstandingPosts, -1)
		}
		return fmt.Errorf("rmem: post write: %w", err)
	}
	return nil
}

// unsignaledFlag is ORed into the length field's top bit to mark a
// WRITE as fire-and-forget; block/transfer lengths never approach
// 2^31 bytes so this steals a bit safely.
const unsignaledFlag uint32 = 1 << 31

// CAS posts a compare-and-swap of the 8 bytes at (node, offset),
// tagged with wrID. The observed old value arrives via the
// completion's CASOld field.
func (qp *QueuePair) CAS(node uint32, offset uint64, expected, new uint64, wrID uint64) error {
	atomic.AddInt64(&qp.outstandingCAS, 1)
	atomic.AddInt64(&qp.outstandingPosts, 1)
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:], expected)
	binary.LittleEndian.PutUint64(payload[8:], new)
	h := requestHeader{Opcode: OpCAS, WRID: wrID, Node: node, Offset: offset, Length: uint32(len(payload))}
	if err := qp.writeFrame(h, payload); err != nil {
		atomic.AddInt64(&qp.outstandingCAS, -1)
		atomic.AddInt64(&qp.outstandingPosts, -1)
		return fmt.Errorf("rmem: post cas: %w", err)
	}
	return nil
}

// WaitOne spin-polls the completion queue, draining unrelated
// completions via other, until the completion for wrID arrives.
func (qp *QueuePair) WaitOne(wrID uint64, other func(Completion)) (Completion, error) {
	for {
		if err, ok := qp.readErr.Load().(error); ok && err != nil {
			return Completion{}, err
		}
		c, ok := qp.cq.Poll()
		if !ok {
			continue
		}
		if c.WRID == wrID {
			return c, c.Err
		}
		if other != nil {
			other(c)
		}
	}
}

func (qp *QueuePair) readLoop() {
	for {
		rh, err := readResponseHeader(qp.conn)
		if err != nil {
			qp.readErr.Store(fmt.Errorf("rmem: connection closed: %w", err))
			return
		}
		c := Completion{WRID: rh.WRID, Opcode: rh.Opcode &^ opResp, CASOld: rh.CASOld}
		if rh.Status != StatusOK {
			msg := make([]byte, rh.Length)
			io.ReadFull(qp.conn, msg)
			c.Err = &ErrRemoteFailure{WRID: rh.WRID, Msg: string(msg)}
			qp.finish(c, rh.Opcode&^opResp == OpCAS)
			continue
		}
		if rh.Length > 0 {
			body := make([]byte, rh.Length)
			if _, err := io.ReadFull(qp.conn, body); err != nil {
				qp.readErr.Store(err)
				return
			}
			if c.Opcode == OpRead {
				qp.pendingMu.Lock()
				p := qp.pendingOp[rh.WRID]
				delete(qp.pendingOp, rh.WRID)
				qp.pendingMu.Unlock()
				if p != nil {
					copy(p.dst, body)
				}
			}
		}
		qp.finish(c, c.Opcode == OpCAS)
	}
}

func (qp *QueuePair) finish(c Completion, wasCAS bool) {
	atomic.AddInt64(&qp.outstandingPosts, -1)
	if wasCAS {
		atomic.AddInt64(&qp.outstandingCAS, -1)
	}
	qp.cq.push(c)
}
