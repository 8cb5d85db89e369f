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

// Package rbuf implements the per-thread read buffer: a grid of
// block-sized slots, READ_BUFFER_LENGTH columns (one per query term)
// by READ_BUFFER_DEPTH rows, used to pipeline prefetching along a
// traversal. Slot arenas are reserved up front with an Mmap-style
// allocation (see arena_linux.go; arena_other.go is the plain-slice
// fallback), mirroring vm/malloc.go's VMM reservation
// rather than many small per-block allocations.
package rbuf

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// MaxColumns is the hard cap on READ_BUFFER_LENGTH (spec.md §9: query
// longer than this is a UserInputError, not silently truncated).
const MaxColumns = 32

// DefaultDepth is READ_BUFFER_DEPTH's default.
const DefaultDepth = 2

// Slot is one cell of the read-buffer grid.
type Slot struct {
	Buf         []byte
	Ready       bool
	JustWriting bool
	IsValid     bool

	node   uint32
	offset uint64

	next *Slot
}

// Block views the slot's buffer as a block under the given layout.
func (s *Slot) Block(l block.Layout) block.Block {
	return block.New(s.Buf, l)
}

// column is one traversal cursor's row ring.
type column struct {
	rows []*Slot
	cur  int
}

func (c *column) cursor() *Slot { return c.rows[c.cur] }
func (c *column) advance()      { c.cur = (c.cur + 1) % len(c.rows) }

// ReadBuffer is a per-thread grid of read-buffer slots bound to a
// QueuePair.
type ReadBuffer struct {
	qp     *rmem.QueuePair
	layout block.Layout
	cols   []column
}

// New allocates a ReadBuffer with the given number of columns (query
// terms) and depth (rows per column), backed by qp.
func New(qp *rmem.QueuePair, layout block.Layout, numColumns, depth int) (*ReadBuffer, error) {
	if numColumns < 0 || numColumns > MaxColumns {
		return nil, fmt.Errorf("rbuf: %d columns exceeds READ_BUFFER_LENGTH=%d", numColumns, MaxColumns)
	}
	if depth < 1 {
		depth = DefaultDepth
	}
	rb := &ReadBuffer{qp: qp, layout: layout, cols: make([]column, numColumns)}
	for c := range rb.cols {
		rows := make([]*Slot, depth)
		for r := range rows {
			rows[r] = &Slot{Buf: NewArena(layout.BlockSize)}
		}
		for r := range rows {
			rows[r].next = rows[(r+1)%depth]
		}
		rb.cols[c] = column{rows: rows}
	}
	return rb, nil
}

// Layout returns the block layout slots are sized for.
func (rb *ReadBuffer) Layout() block.Layout { return rb.layout }

// Slot returns the slot at (col, row).
func (rb *ReadBuffer) Slot(col, row int) *Slot {
	return rb.cols[col].rows[row]
}

// Cursor returns the slot currently active in column col.
func (rb *ReadBuffer) Cursor(col int) *Slot {
	return rb.cols[col].cursor()
}

// CursorRow returns the row index currently active in column col.
func (rb *ReadBuffer) CursorRow(col int) int {
	return rb.cols[col].cur
}

// Advance moves column col's cursor to the next row in its circular
// depth-sized ring.
func (rb *ReadBuffer) Advance(col int) {
	rb.cols[col].advance()
}

// PostRead issues an asynchronous READ of the block addressed by ptr
// into slot (col, row), tagged so OnCompletion can route its
// completion back here.
func (rb *ReadBuffer) PostRead(col, row int, ptr block.RemotePtr) error {
	slot := rb.cols[col].rows[row]
	slot.Ready = false
	slot.JustWriting = false
	slot.node = ptr.Node
	slot.offset = ptr.ByteOffset(rb.layout.BlockSize)
	return rb.qp.Read(slot.node, slot.offset, slot.Buf, rmem.EncodeWRID(uint32(col), uint32(row)))
}

// OnCompletion processes a READ completion addressed at this read
// buffer. If the block's lock bit is set or its cache lines disagree,
// the read is automatically reissued (TransientOptimistic); otherwise
// the slot is marked ready. Non-read completions and completions for
// other read buffers should not be passed here.
func (rb *ReadBuffer) OnCompletion(c rmem.Completion) error {
	if !rmem.IsSlotWRID(c.WRID) {
		return nil
	}
	if c.Err != nil {
		return c.Err
	}
	col, row := rmem.DecodeWRID(c.WRID)
	if int(col) >= len(rb.cols) || int(row) >= len(rb.cols[col].rows) {
		return fmt.Errorf("rbuf: completion (%d,%d) out of range", col, row)
	}
	slot := rb.cols[col].rows[row]
	blk := slot.Block(rb.layout)
	if blk.IsLocked() || !blk.ValidateCacheLines() {
		slot.IsValid = false
		return rb.qp.Read(slot.node, slot.offset, slot.Buf, c.WRID)
	}
	slot.IsValid = true
	slot.Ready = true
	return nil
}

// Fetch is a synchronous convenience wrapper around PostRead: it posts
// the read, waits for its completion, and keeps feeding re-issued
// reads back through OnCompletion until the slot lands ready. Callers
// that want to overlap the wait with other work should use PostRead
// and OnCompletion directly instead.
func (rb *ReadBuffer) Fetch(col, row int, ptr block.RemotePtr) error {
	if err := rb.PostRead(col, row, ptr); err != nil {
		return err
	}
	wrID := rmem.EncodeWRID(uint32(col), uint32(row))
	slot := rb.cols[col].rows[row]
	for {
		c, err := rb.qp.WaitOne(wrID, nil)
		if err != nil {
			return err
		}
		if err := rb.OnCompletion(c); err != nil {
			return err
		}
		if slot.Ready {
			return nil
		}
	}
}
