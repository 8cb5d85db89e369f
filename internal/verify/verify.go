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

// Package verify implements the offline/test consistency checks a
// chain of dynamic blocks is expected to satisfy: no cycles, strictly
// ascending payloads (within a block and across the chain), and
// forward-pointer tag consistency. ContainsID walks a chain searching
// for a single id, a linear check that an inserted value landed.
package verify

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// maxChainLength bounds a chain walk so a cycle (a bug this package
// exists to catch) fails fast instead of looping forever.
const maxChainLength = 1 << 20

func readBlock(qp *rmem.QueuePair, layout block.Layout, ptr block.RemotePtr, wrID uint64) (block.Block, error) {
	buf := make([]byte, layout.BlockSize)
	if err := qp.Read(ptr.Node, ptr.ByteOffset(layout.BlockSize), buf, wrID); err != nil {
		return block.Block{}, err
	}
	if _, err := qp.WaitOne(wrID, nil); err != nil {
		return block.Block{}, err
	}
	return block.New(buf, layout), nil
}

// CheckNoCycle walks the chain from head, failing if any block
// address is revisited or the walk exceeds maxChainLength hops.
func CheckNoCycle(qp *rmem.QueuePair, layout block.Layout, head block.RemotePtr, wrID uint64) error {
	seen := make(map[block.RemotePtr]bool)
	cur := head
	for hops := 0; !cur.IsNull(); hops++ {
		if hops > maxChainLength {
			return fmt.Errorf("verify: chain exceeds %d blocks, suspected cycle", maxChainLength)
		}
		if seen[cur] {
			return fmt.Errorf("verify: cycle detected at block %+v", cur)
		}
		seen[cur] = true
		blk, err := readBlock(qp, layout, cur, wrID)
		if err != nil {
			return err
		}
		cur = blk.GetRemotePtr()
	}
	return nil
}

// CheckAscending walks the chain from head, failing if any block's
// non-tombstone payload prefix is not strictly ascending, or if a
// successor block's first value does not exceed its predecessor's
// last value.
func CheckAscending(qp *rmem.QueuePair, layout block.Layout, head block.RemotePtr, wrID uint64) error {
	cur := head
	havePrev := false
	var prevMax uint32
	for !cur.IsNull() {
		blk, err := readBlock(qp, layout, cur, wrID)
		if err != nil {
			return err
		}
		var prev uint32
		have := false
		for i := 0; i < layout.NumPayloadSlots(); i++ {
			v := blk.PayloadAt(i)
			if v == block.Tombstone {
				break
			}
			if have && v <= prev {
				return fmt.Errorf("verify: block %+v slot %d value %d does not exceed previous %d", cur, i, v, prev)
			}
			prev = v
			have = true
		}
		if have && havePrev {
			if first := blk.PayloadAt(0); first <= prevMax {
				return fmt.Errorf("verify: block %+v first value %d does not exceed predecessor's max %d", cur, first, prevMax)
			}
		}
		if have {
			prevMax = prev
			havePrev = true
		}
		cur = blk.GetRemotePtr()
	}
	return nil
}

// CheckTagConsistency walks the chain from head, failing if any
// block's stored forward-pointer tag does not match the successor
// block's current block tag — the signal that the successor slot was
// reused (freed and reallocated) out from under a stale pointer.
func CheckTagConsistency(qp *rmem.QueuePair, layout block.Layout, head block.RemotePtr, wrID uint64) error {
	cur := head
	for !cur.IsNull() {
		blk, err := readBlock(qp, layout, cur, wrID)
		if err != nil {
			return err
		}
		next := blk.GetRemotePtr()
		if next.IsNull() {
			return nil
		}
		wantTag := blk.GetRemotePtrTag()
		succ, err := readBlock(qp, layout, next, wrID)
		if err != nil {
			return err
		}
		if got := succ.GetBlockTag(); got != wantTag {
			return fmt.Errorf("verify: block %+v expects successor tag %d, found %d at %+v", cur, wantTag, got, next)
		}
		cur = next
	}
	return nil
}

// ContainsID walks the whole chain from head looking for id,
// returning true on the first match. It does not use the ascending
// order to stop early — callers that also want ordering guarantees
// should pair this with CheckAscending.
func ContainsID(qp *rmem.QueuePair, layout block.Layout, head block.RemotePtr, id uint32, wrID uint64) (bool, error) {
	cur := head
	for !cur.IsNull() {
		blk, err := readBlock(qp, layout, cur, wrID)
		if err != nil {
			return false, err
		}
		for i := 0; i < layout.NumPayloadSlots(); i++ {
			v := blk.PayloadAt(i)
			if v == block.Tombstone {
				break
			}
			if v == id {
				return true, nil
			}
		}
		cur = blk.GetRemotePtr()
	}
	return false, nil
}
