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

import "fmt"

// Completion describes one entry popped from a completion queue.
type Completion struct {
	WRID   uint64
	Opcode Opcode
	// CASOld is the value CAS observed at the remote address
	// (valid only when Opcode == OpCAS).
	CASOld uint64
	Err    error
}

// ErrRemoteFailure wraps a non-success completion status; per
// spec.md's error taxonomy this is a FatalTransport condition and
// should not be retried.
type ErrRemoteFailure struct {
	WRID uint64
	Msg  string
}

func (e *ErrRemoteFailure) Error() string {
	return fmt.Sprintf("rmem: completion %d failed: %s", e.WRID, e.Msg)
}

// CQ is a single-producer/single-consumer completion queue: the
// QueuePair's read-loop goroutine is the sole producer, and the
// owning worker thread is the sole consumer, consistent with
// spec.md's "no sharing of mutable memory between worker threads."
type CQ struct {
	ch chan Completion
}

// NewCQ allocates a completion queue with the given capacity.
func NewCQ(capacity int) *CQ {
	return &CQ{ch: make(chan Completion, capacity)}
}

func (q *CQ) push(c Completion) {
	q.ch <- c
}

// Poll returns the next completion without blocking, or ok=false if
// none is available.
func (q *CQ) Poll() (c Completion, ok bool) {
	select {
	case c = <-q.ch:
		return c, true
	default:
		return Completion{}, false
	}
}

// Drain pops every completion currently available, invoking fn for
// each. It is used both to service the outstanding-post throttle and
// to opportunistically process unrelated completions while spinning
// on a specific one.
func (q *CQ) Drain(fn func(Completion)) int {
	n := 0
	for {
		c, ok := q.Poll()
		if !ok {
			return n
		}
		fn(c)
		n++
	}
}
