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

// Package traverse implements the two read-only set operations over
// posting lists addressed by RemotePtr chains: k-way intersection and
// k-way union. Both pull per-column blocks through an internal/rbuf
// grid. A list's successor block is read synchronously when the
// column's cursor reaches the end of the current block; no read is
// issued ahead of that.
package traverse

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/pqueue"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rbuf"
)

// column is one list's cursor into the read-buffer grid: a currently
// fetched block plus a slot index into its payload.
type column struct {
	rb  *rbuf.ReadBuffer
	idx int // column index within rb

	pos int // payload slot index into the block held at the active row
}

func newColumn(rb *rbuf.ReadBuffer, idx int, head block.RemotePtr) (*column, error) {
	c := &column{rb: rb, idx: idx}
	if head.IsNull() {
		c.pos = -1 // empty list: never valid.
		return c, nil
	}
	row := rb.CursorRow(idx)
	if err := rb.Fetch(idx, row, head); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *column) block() block.Block {
	return c.rb.Cursor(c.idx).Block(c.rb.Layout())
}

// valid reports whether the cursor currently addresses a non-tombstone
// payload value.
func (c *column) valid() bool {
	if c.pos < 0 {
		return false
	}
	return c.block().PayloadAt(c.pos) != block.Tombstone
}

func (c *column) value() uint32 {
	return c.block().PayloadAt(c.pos)
}

// advance moves the cursor to its next payload slot, crossing into the
// successor block on exhaustion by fetching it synchronously into the
// column's next read-buffer row.
func (c *column) advance() error {
	if c.pos < 0 {
		return nil
	}
	c.pos++
	blk := c.block()
	if c.pos < blk.Layout.NumPayloadSlots() && blk.PayloadAt(c.pos) != block.Tombstone {
		return nil
	}
	// end of block: follow the forward pointer, if any.
	next := blk.GetRemotePtr()
	if next.IsNull() {
		c.pos = -1
		return nil
	}
	row := c.rb.CursorRow(c.idx)
	c.rb.Advance(c.idx)
	nextRow := c.rb.CursorRow(c.idx)
	if nextRow == row {
		// depth 1: no second row to fetch into; fetch in place.
		nextRow = row
	}
	if err := c.rb.Fetch(c.idx, nextRow, next); err != nil {
		return err
	}
	c.pos = 0
	return nil
}

// Intersect computes the ascending intersection of the k posting
// lists addressed by heads. k == 0 yields an empty result; k == 1
// streams the single list unfiltered.
func Intersect(rb *rbuf.ReadBuffer, heads []block.RemotePtr) ([]uint32, error) {
	k := len(heads)
	if k == 0 {
		return nil, nil
	}
	if k > rbuf.MaxColumns {
		return nil, fmt.Errorf("traverse: %d keys exceeds READ_BUFFER_LENGTH=%d", k, rbuf.MaxColumns)
	}
	cols := make([]*column, k)
	for i, h := range heads {
		c, err := newColumn(rb, i, h)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	if k == 1 {
		var out []uint32
		for cols[0].valid() {
			out = append(out, cols[0].value())
			if err := cols[0].advance(); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	if !cols[0].valid() {
		return nil, nil
	}
	currentValue := cols[0].value()
	matched := 1
	if err := cols[0].advance(); err != nil {
		return nil, err
	}

	var results []uint32
	col := 1 % k
	for {
		if !cols[col].valid() {
			break
		}
		for cols[col].valid() && cols[col].value() < currentValue {
			if err := cols[col].advance(); err != nil {
				return nil, err
			}
		}
		if !cols[col].valid() {
			break
		}
		v := cols[col].value()
		if v == currentValue {
			matched++
			if matched == k {
				results = append(results, currentValue)
				// every column is currently parked on currentValue;
				// advance all of them so the next round starts clean
				// instead of re-counting the same match k-1 more
				// times as the rotation revisits stale columns.
				for i := range cols {
					for cols[i].valid() && cols[i].value() == currentValue {
						if err := cols[i].advance(); err != nil {
							return nil, err
						}
					}
				}
				if !cols[0].valid() {
					break
				}
				currentValue = cols[0].value()
				matched = 1
				if err := cols[0].advance(); err != nil {
					return nil, err
				}
				col = 1 % k
				continue
			}
		} else {
			currentValue = v
			matched = 1
		}
		col = (col + 1) % k
	}
	return results, nil
}

// Union computes the ascending, deduplicated union of the k posting
// lists addressed by heads, merging via a min-heap frontier.
func Union(rb *rbuf.ReadBuffer, heads []block.RemotePtr) ([]uint32, error) {
	k := len(heads)
	if k == 0 {
		return nil, nil
	}
	if k > rbuf.MaxColumns {
		return nil, fmt.Errorf("traverse: %d keys exceeds READ_BUFFER_LENGTH=%d", k, rbuf.MaxColumns)
	}
	cols := make([]*column, k)
	for i, h := range heads {
		c, err := newColumn(rb, i, h)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}

	h := newFrontier()
	for i, c := range cols {
		if c.valid() {
			h.push(pqueue.Item{Value: c.value(), List: i})
		}
	}

	var results []uint32
	haveLast := false
	var last uint32
	for h.len() > 0 {
		item := h.pop()
		if !haveLast || item.Value != last {
			results = append(results, item.Value)
			last = item.Value
			haveLast = true
		}
		c := cols[item.List]
		if err := c.advance(); err != nil {
			return nil, err
		}
		if c.valid() {
			h.push(pqueue.Item{Value: c.value(), List: item.List})
		}
	}
	return results, nil
}
