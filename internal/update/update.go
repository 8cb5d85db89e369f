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

// Package update implements find_block_and_insert: optimistic
// traversal of a posting list with a per-block CAS lock, guarded by
// the block tag so a reused block is detected and the whole operation
// restarted from the catalog rather than corrupting a stale chain.
package update

import (
	"fmt"
	"sort"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rbuf"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// Catalog is the term id -> first-block pointer mapping the updater
// reads from and, for a first insert into an empty list, writes back
// to (the sentinel head is never linked to; the first real block is
// materialized directly into the catalog slot instead).
type Catalog interface {
	Get(term uint32) block.RemotePtr
	Set(term uint32, ptr block.RemotePtr)
}

// Allocator hands out a fresh block from some memory node's free list.
// Node selection policy (which node to allocate from) is the
// allocator's concern, not the updater's.
type Allocator interface {
	Allocate() (node uint32, offset uint32, err error)
}

// Updater drives find_block_and_insert for one compute worker. It
// owns one QueuePair per memory node it can reach, a read buffer
// column reserved for chain traversal, and a scratch allocation
// buffer for newly allocated blocks. Like a QueuePair, an Updater is
// not safe for concurrent use by multiple goroutines.
type Updater struct {
	qps      map[uint32]*rmem.QueuePair
	layout   block.Layout
	catalog  Catalog
	alloc    Allocator
	rb       *rbuf.ReadBuffer
	col      int
	allocBuf []byte
	wrID     uint64
}

// New returns an Updater. col is the column of rb reserved for this
// updater's chain traversal; wrID is the work-request id this updater
// reuses for its own synchronous operations (safe because an Updater
// is single-threaded and every op it posts is waited on before the
// next is posted).
func New(qps map[uint32]*rmem.QueuePair, layout block.Layout, catalog Catalog, alloc Allocator, rb *rbuf.ReadBuffer, col int, wrID uint64) *Updater {
	return &Updater{
		qps:      qps,
		layout:   layout,
		catalog:  catalog,
		alloc:    alloc,
		rb:       rb,
		col:      col,
		allocBuf: make([]byte, layout.BlockSize),
		wrID:     wrID,
	}
}

// Insert inserts id into the posting list for term, restarting the
// whole traversal from the catalog whenever a block-tag mismatch
// (TransientLink) is observed.
func (u *Updater) Insert(term, id uint32) error {
	for {
		ok, err := u.attempt(term, id)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (u *Updater) attempt(term, id uint32) (bool, error) {
	head := u.catalog.Get(term)
	if head.IsNull() {
		return u.materializeFirstBlock(term, id)
	}

	node, offs := head.Node, head.Offset
	// The catalog entry carries no tag, so the head block's b_tag is not
	// checked; every successor is checked against its link's p_tag.
	expectedTag, checkTag := uint16(0), false
	row := u.rb.CursorRow(u.col)

	for {
		ptr := block.RemotePtr{Node: node, Offset: offs}
		if err := u.rb.Fetch(u.col, row, ptr); err != nil {
			return false, err
		}
		blk := u.rb.Slot(u.col, row).Block(u.layout)

		if checkTag && blk.GetBlockTag() != expectedTag {
			return false, nil // TransientLink: restart from the catalog.
		}

		_, max, maxSlot := blk.GetMinMax()
		fwd := blk.GetRemotePtr()
		nextTag := blk.GetRemotePtrTag()

		if !fwd.IsNull() && max < id {
			node, offs = fwd.Node, fwd.Offset
			expectedTag, checkTag = nextTag, true
			u.rb.Advance(u.col)
			row = u.rb.CursorRow(u.col)
			continue
		}

		locked, err := u.lockBlock(node, offs, blk)
		if err != nil {
			return false, err
		}
		if !locked {
			continue // TransientLock: re-fetch and retry this block.
		}

		// append applies only when this is the true tail (no successor)
		// and id sorts past everything already stored; any other case
		// landing here — including a tail block receiving an
		// out-of-order id — needs an ordered insert to keep the
		// payload ascending.
		oldFwd := blk.ForwardPtr()
		appendMode := fwd.IsNull() && id > max
		if !blk.IsFull() {
			if appendMode {
				blk.SetPayloadAt(maxSlot+1, id)
			} else {
				insertOrdered(blk, id, maxSlot)
			}
			return true, u.commit(node, offs, blk)
		}
		return u.splitAndInsert(blk, node, offs, id, oldFwd, appendMode)
	}
}

func (u *Updater) materializeFirstBlock(term, id uint32) (bool, error) {
	node, offset, err := u.alloc.Allocate()
	if err != nil {
		return false, fmt.Errorf("update: materialize first block: %w", err)
	}
	if err := u.readRaw(node, offset, u.allocBuf); err != nil {
		return false, err
	}
	blk := block.New(u.allocBuf, u.layout)
	tag := block.NextBTag(blk.GetBlockTag())
	for i := 0; i < u.layout.NumPayloadSlots(); i++ {
		blk.SetPayloadAt(i, block.Tombstone)
	}
	blk.SetPayloadAt(0, id)
	blk.SetForwardPtr(block.NullFwd)
	blk.SetBlockTag(tag)
	blk.SetUnlock()
	blk.IncreaseCacheLineVersions()
	if err := u.writeBlock(node, offset, blk, u.wrID); err != nil {
		return false, err
	}
	u.catalog.Set(term, block.RemotePtr{Node: node, Offset: offset})
	return true, nil
}

// splitAndInsert allocates a new block, moves the upper half of blk's
// payload into it, links it in, and places id in whichever half
// preserves order. appendMode (Case B) means id is already known to
// sort past everything moved into the allocation block, so it can be
// placed directly rather than searched for; otherwise (Case D) id is
// routed by comparing it against the allocation block's first value.
func (u *Updater) splitAndInsert(blk block.Block, node, offs uint32, id uint32, oldFwd block.FwdPtr, appendMode bool) (bool, error) {
	allocNode, allocOffset, err := u.alloc.Allocate()
	if err != nil {
		return false, fmt.Errorf("update: split: %w", err)
	}
	if err := u.readRaw(allocNode, allocOffset, u.allocBuf); err != nil {
		return false, err
	}
	allocBlk := block.New(u.allocBuf, u.layout)
	newTag := block.NextBTag(allocBlk.GetBlockTag())

	bFree, tFree := blk.SplitBlock(allocBlk)
	allocBlk.SetForwardPtr(oldFwd)

	if appendMode {
		allocBlk.SetPayloadAt(tFree, id)
	} else if id < allocBlk.PayloadAt(0) {
		insertOrdered(blk, id, bFree-1)
	} else {
		insertOrdered(allocBlk, id, tFree-1)
	}
	allocBlk.SetBlockTag(newTag)
	allocBlk.SetUnlock()
	allocBlk.IncreaseCacheLineVersions()

	blk.SetForwardPtr(block.FwdPtr{PTag: newTag, Node: allocNode, Offset: uint64(allocOffset)})

	if err := u.writeBlock(allocNode, allocOffset, allocBlk, rmem.WRWriteAllocationBlock); err != nil {
		return false, err
	}
	return true, u.commit(node, offs, blk)
}

// commit is the final step of every successful insert attempt: bump
// the cache-line versions, clear the lock bit, and write the block
// back.
func (u *Updater) commit(node, offs uint32, blk block.Block) error {
	blk.IncreaseCacheLineVersions()
	blk.SetUnlock()
	return u.writeBlock(node, offs, blk, u.wrID)
}

func (u *Updater) lockBlock(node, offset uint32, blk block.Block) (bool, error) {
	f := blk.FlagWord()
	if f.Lock {
		return false, nil
	}
	swap := block.FlagWord{Version: f.Version, BTag: f.BTag, Lock: true}
	addr := u.flagWordAddr(node, offset)
	qp := u.qps[node]
	if err := qp.CAS(node, addr, f.Encode(), swap.Encode(), u.wrID); err != nil {
		return false, fmt.Errorf("update: cas lock: %w", err)
	}
	c, err := qp.WaitOne(u.wrID, nil)
	if err != nil {
		return false, err
	}
	if c.CASOld != f.Encode() {
		return false, nil
	}
	blk.SetLock()
	return true, nil
}

func (u *Updater) flagWordAddr(node, offset uint32) uint64 {
	ptr := block.RemotePtr{Node: node, Offset: offset}
	return ptr.ByteOffset(u.layout.BlockSize) + uint64(u.layout.FlagWordByteOffset())
}

func (u *Updater) readRaw(node, offset uint32, dst []byte) error {
	ptr := block.RemotePtr{Node: node, Offset: offset}
	qp := u.qps[node]
	if err := qp.Read(node, ptr.ByteOffset(u.layout.BlockSize), dst, u.wrID); err != nil {
		return err
	}
	_, err := qp.WaitOne(u.wrID, nil)
	return err
}

func (u *Updater) writeBlock(node, offset uint32, blk block.Block, wrID uint64) error {
	ptr := block.RemotePtr{Node: node, Offset: offset}
	qp := u.qps[node]
	if err := qp.Write(node, ptr.ByteOffset(u.layout.BlockSize), blk.Buf, wrID, true); err != nil {
		return err
	}
	_, err := qp.WaitOne(wrID, nil)
	return err
}

// insertOrdered shifts payload slots [pos, maxSlot] up by one and
// writes value at the resulting gap, preserving ascending order.
func insertOrdered(blk block.Block, value uint32, maxSlot int) {
	pos := sort.Search(maxSlot+1, func(i int) bool {
		return blk.PayloadAt(i) > value
	})
	for i := maxSlot + 1; i > pos; i-- {
		blk.SetPayloadAt(i, blk.PayloadAt(i-1))
	}
	blk.SetPayloadAt(pos, value)
}
