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

// Package staticidx implements the document-partitioned / term-
// partitioned static index: the same RemotePtr-chained block
// traversal as internal/traverse, minus the parts that exist only to
// support updates — no cache-line versioning, no tags, no lock bit,
// no read-buffer prefetch grid, since there are no concurrent writers
// to race against or stale reads to detect. Each column reads its
// current block synchronously over a QueuePair rather than through a
// pipelined read-buffer slot.
package staticidx

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/pqueue"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// MaxColumns mirrors internal/rbuf's hard cap: a query naming more
// keys than this is a user input error, not a silent truncation.
const MaxColumns = 32

// column is one list's read cursor: the currently loaded static block
// plus a payload slot index into it.
type column struct {
	qp        *rmem.QueuePair
	blockSize int
	buf       []byte
	pos       int
	wrID      uint64
}

func newColumn(qp *rmem.QueuePair, blockSize int, head block.RemotePtr, wrID uint64) (*column, error) {
	c := &column{qp: qp, blockSize: blockSize, buf: make([]byte, blockSize), wrID: wrID}
	if head.IsNull() {
		c.pos = -1
		return c, nil
	}
	if err := c.load(head); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *column) load(ptr block.RemotePtr) error {
	if err := c.qp.Read(ptr.Node, ptr.ByteOffset(c.blockSize), c.buf, c.wrID); err != nil {
		return err
	}
	if _, err := c.qp.WaitOne(c.wrID, nil); err != nil {
		return err
	}
	c.pos = 0
	return nil
}

func (c *column) blk() block.StaticBlock {
	return block.NewStatic(c.buf, c.blockSize)
}

func (c *column) valid() bool {
	if c.pos < 0 {
		return false
	}
	return c.blk().PayloadAt(c.pos) != block.Tombstone
}

func (c *column) value() uint32 {
	return c.blk().PayloadAt(c.pos)
}

func (c *column) advance() error {
	if c.pos < 0 {
		return nil
	}
	c.pos++
	b := c.blk()
	if c.pos < b.NumPayloadSlots() && b.PayloadAt(c.pos) != block.Tombstone {
		return nil
	}
	next := b.ForwardPtr()
	if next.IsNull() {
		c.pos = -1
		return nil
	}
	return c.load(next)
}

// Intersect computes the ascending intersection of the k lists
// addressed by heads, one QueuePair read at a time per column (no
// prefetch pipeline: this variant trades throughput for the absence
// of the locking/versioning machinery the dynamic index needs).
func Intersect(qp *rmem.QueuePair, blockSize int, heads []block.RemotePtr, baseWRID uint64) ([]uint32, error) {
	k := len(heads)
	if k == 0 {
		return nil, nil
	}
	if k > MaxColumns {
		return nil, fmt.Errorf("staticidx: %d keys exceeds max %d", k, MaxColumns)
	}
	cols := make([]*column, k)
	for i, h := range heads {
		c, err := newColumn(qp, blockSize, h, baseWRID+uint64(i))
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

// Union computes the ascending, deduplicated union of the k lists
// addressed by heads.
func Union(qp *rmem.QueuePair, blockSize int, heads []block.RemotePtr, baseWRID uint64) ([]uint32, error) {
	k := len(heads)
	if k == 0 {
		return nil, nil
	}
	if k > MaxColumns {
		return nil, fmt.Errorf("staticidx: %d keys exceeds max %d", k, MaxColumns)
	}
	cols := make([]*column, k)
	for i, h := range heads {
		c, err := newColumn(qp, blockSize, h, baseWRID+uint64(i))
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}

	frontier := make([]pqueue.Item, 0, k)
	for i, c := range cols {
		if c.valid() {
			pqueue.Push(&frontier, pqueue.Item{Value: c.value(), List: i})
		}
	}

	var results []uint32
	haveLast := false
	var last uint32
	for len(frontier) > 0 {
		it := pqueue.Pop(&frontier)
		if !haveLast || it.Value != last {
			results = append(results, it.Value)
			last = it.Value
			haveLast = true
		}
		c := cols[it.List]
		if err := c.advance(); err != nil {
			return nil, err
		}
		if c.valid() {
			pqueue.Push(&frontier, pqueue.Item{Value: c.value(), List: it.List})
		}
	}
	return results, nil
}
