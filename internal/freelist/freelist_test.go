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

package freelist

import (
	"encoding/binary"
	"testing"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

func newLoopback(t *testing.T, arenaSize int) *rmem.QueuePair {
	t.Helper()
	srv := rmem.NewServer(0, arenaSize)
	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	qp, err := rmem.Dial(addr, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qp.Close() })
	return qp
}

const testPartitions = 4

// seedChain writes n free blocks (indices 1..n), all threaded onto a
// single partition (Partitions must be 1), into the arena addressed
// by layout. Used by tests that exercise Allocate/Deallocate's CAS
// retry logic in isolation from partition selection.
func seedChain(t *testing.T, qp *rmem.QueuePair, layout Layout, n int) {
	t.Helper()
	if layout.Partitions != 1 {
		t.Fatalf("seedChain requires a single-partition layout, got %d", layout.Partitions)
	}
	wrID := uint64(1000)
	write := func(addr uint64, v uint64, width int) {
		buf := make([]byte, width)
		if width == 8 {
			binary.LittleEndian.PutUint64(buf, v)
		} else {
			binary.LittleEndian.PutUint32(buf, uint32(v))
		}
		if err := qp.Write(0, addr, buf, wrID, true); err != nil {
			t.Fatal(err)
		}
		if _, err := qp.WaitOne(wrID, nil); err != nil {
			t.Fatal(err)
		}
	}
	head := HeadTombstone
	for i := n; i >= 1; i-- {
		write(layout.NextAddr(uint32(i)), head, 4)
		head = uint64(i)
	}
	write(layout.HeadAddr(0), head, 8)
}

func TestAllocateDrainsChain(t *testing.T) {
	layout := Layout{HeadOffset: 0, NextOffset: 64, Partitions: 1}
	qp := newLoopback(t, 4096)
	seedChain(t, qp, layout, 5)

	fl := New(qp, 0, layout, 1, 2, 1)
	seen := map[uint32]bool{}
	for i := 0; i < 5; i++ {
		b, err := fl.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[b] {
			t.Fatalf("block %d allocated twice", b)
		}
		seen[b] = true
	}
	if _, err := fl.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestDeallocateThenAllocateRoundTrips(t *testing.T) {
	layout := Layout{HeadOffset: 0, NextOffset: 64, Partitions: 1}
	qp := newLoopback(t, 4096)
	seedChain(t, qp, layout, 0)

	fl := New(qp, 0, layout, 5, 9, 1)
	if err := fl.Deallocate(7); err != nil {
		t.Fatal(err)
	}
	b, err := fl.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if b != 7 {
		t.Fatalf("allocated %d, want 7", b)
	}
	if _, err := fl.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted after draining the single deallocated block, got %v", err)
	}
}

func TestAllocateFailsOnEmptyPartitionEvenIfOthersHaveFreeBlocks(t *testing.T) {
	// Partition 0 holds a free block; partitions 1..3 are tombstoned
	// from the start. A FreeList pinned to partition 1 (via a
	// single-partition view layout whose HeadOffset targets partition
	// 1's real slot) must report ErrExhausted even though partition 0
	// is non-empty, matching the original allocator's single-partition
	// fatal check rather than scanning every partition.
	layout := Layout{HeadOffset: 0, NextOffset: 64, Partitions: testPartitions}
	qp := newLoopback(t, 4096)
	seedChain(t, qp, Layout{HeadOffset: 0, NextOffset: 64, Partitions: 1}, 1)
	for p := 1; p < testPartitions; p++ {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, HeadTombstone)
		if err := qp.Write(0, layout.HeadAddr(p), buf, 1000, true); err != nil {
			t.Fatal(err)
		}
		if _, err := qp.WaitOne(1000, nil); err != nil {
			t.Fatal(err)
		}
	}

	pinnedToPartition1 := Layout{HeadOffset: layout.HeadAddr(1), NextOffset: layout.NextOffset, Partitions: 1}
	fl := New(qp, 0, pinnedToPartition1, 1, 2, 1)
	if _, err := fl.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted for the empty partition, got %v", err)
	}
}

func TestLayoutForPlacesMetadataAfterBlockArena(t *testing.T) {
	layout := LayoutFor(128, 16, testPartitions)
	if layout.HeadOffset != 128*16 {
		t.Fatalf("HeadOffset = %d, want %d", layout.HeadOffset, 128*16)
	}
	if layout.NextOffset != layout.HeadOffset+testPartitions*8 {
		t.Fatalf("NextOffset = %d, want %d", layout.NextOffset, layout.HeadOffset+testPartitions*8)
	}
	want := layout.NextOffset + 16*4
	if got := layout.ArenaBytes(16); got != want {
		t.Fatalf("ArenaBytes = %d, want %d", got, want)
	}
}

// TestSeedIntoStripesAcrossPartitions checks that SeedInto distributes
// free blocks round-robin across partitions (partition p's stack
// covers indices congruent to firstFree+p mod Partitions) rather than
// piling every free block onto one partition.
func TestSeedIntoStripesAcrossPartitions(t *testing.T) {
	const arenaBlocks = 12
	const partitions = 4
	const firstFree = 2
	layout := LayoutFor(64, arenaBlocks, partitions)
	arena := make([]byte, layout.ArenaBytes(arenaBlocks))
	layout.SeedInto(arena, arenaBlocks, firstFree)

	for p := 0; p < partitions; p++ {
		head := binary.LittleEndian.Uint64(arena[layout.HeadAddr(p):])
		wantHead := uint64(firstFree + p)
		if head != wantHead {
			t.Fatalf("partition %d head = %d, want %d", p, head, wantHead)
		}
		cur := head
		count := 0
		for cur != HeadTombstone {
			if int(cur)%partitions != (firstFree+p)%partitions {
				t.Fatalf("partition %d contains block %d, wrong stripe", p, cur)
			}
			cur = uint64(binary.LittleEndian.Uint32(arena[layout.NextAddr(uint32(cur)):]))
			count++
			if count > arenaBlocks {
				t.Fatal("cycle detected in seeded free list")
			}
		}
	}
}

func TestSeedIntoReservesSentinelWhenNoneInitialized(t *testing.T) {
	const arenaBlocks = 4
	layout := LayoutFor(32, arenaBlocks, testPartitions)
	arena := make([]byte, layout.ArenaBytes(arenaBlocks))
	layout.SeedInto(arena, arenaBlocks, 0)

	for p := 0; p < testPartitions; p++ {
		cur := binary.LittleEndian.Uint64(arena[layout.HeadAddr(p):])
		for cur != HeadTombstone {
			if cur == 0 {
				t.Fatal("block 0 must never be chained onto the free list")
			}
			cur = uint64(binary.LittleEndian.Uint32(arena[layout.NextAddr(uint32(cur)):]))
		}
	}
}

func TestAllocateDrainsSeededArenaEventually(t *testing.T) {
	// With one partition, SeedInto's striping degenerates to a single
	// chain, so Allocate (which always targets that one partition) is
	// guaranteed to drain every free block before reporting exhaustion.
	const arenaBlocks = 6
	layout := LayoutFor(32, arenaBlocks, 1)
	srv := rmem.NewServer(0, int(layout.ArenaBytes(arenaBlocks)))
	layout.SeedInto(srv.Arena, arenaBlocks, 1)

	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	qp, err := rmem.Dial(addr, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qp.Close() })

	fl := New(qp, 0, layout, 1, 2, 1)
	seen := map[uint32]bool{}
	for i := 0; i < arenaBlocks-1; i++ {
		b, err := fl.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if b == 0 {
			t.Fatal("allocated reserved sentinel block 0")
		}
		if seen[b] {
			t.Fatalf("block %d allocated twice", b)
		}
		seen[b] = true
	}
	if _, err := fl.Allocate(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}
