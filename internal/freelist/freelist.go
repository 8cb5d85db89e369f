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

// Package freelist implements the per-memory-node lock-free free list:
// a fixed number of head partitions, each a CAS target, backing a
// singly-linked stack of free block indices threaded through a next[]
// array. The CAS retry loop mirrors vm/malloc.go's bitmap allocator,
// applied here to a head-of-stack word read and written over the
// fabric instead of a process-local atomic.
package freelist

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dchest/siphash"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// HeadTombstone marks an empty partition: its stack holds no free
// blocks.
const HeadTombstone uint64 = 0xFFFFFFFFFFFFFFFF

// ErrExhausted is returned by Allocate when the partition it chose has
// an empty stack. This is fatal to the caller's operation: the spec carries no
// provision for growing the arena at runtime.
var ErrExhausted = errors.New("freelist: memory node exhausted")

// Layout describes where a node's free-list head area and next[]
// array live within its arena, in bytes.
type Layout struct {
	HeadOffset uint64
	NextOffset uint64
	Partitions int
}

// HeadAddr returns the byte offset of partition p's head slot.
func (l Layout) HeadAddr(p int) uint64 {
	return l.HeadOffset + uint64(p)*8
}

// NextAddr returns the byte offset of next[i].
func (l Layout) NextAddr(i uint32) uint64 {
	return l.NextOffset + uint64(i)*4
}

// LayoutFor places a node's free-list head area and next[] array
// immediately after its block arena: HeadOffset = arenaBlocks *
// blockSize, NextOffset = HeadOffset + partitions*8. ArenaBytes
// reports the total byte size a node needs to hold both the block
// arena and this free-list metadata.
func LayoutFor(blockSize, arenaBlocks, partitions int) Layout {
	headOffset := uint64(arenaBlocks) * uint64(blockSize)
	return Layout{
		HeadOffset: headOffset,
		NextOffset: headOffset + uint64(partitions)*8,
		Partitions: partitions,
	}
}

// ArenaBytes returns the total arena size (block storage plus
// free-list metadata) this layout requires for arenaBlocks blocks.
func (l Layout) ArenaBytes(arenaBlocks int) uint64 {
	return l.NextOffset + uint64(arenaBlocks)*4
}

// SeedInto initializes the free-list metadata directly in arena (no
// RPC — callers with local access to the arena, like a memory node at
// startup, use this instead of FreeList's remote CAS path). Free
// block indices [firstFree, arenaBlocks) are striped round-robin
// across every partition: partition p's stack starts at firstFree+p,
// and each block's next pointer skips ahead by Partitions, so
// partition p threads together every free block whose index is
// congruent to firstFree+p (mod Partitions). This mirrors the
// original memory node's own startup seeding, and matters for
// Allocate's semantics: since Allocate fails fatally the instant its
// chosen partition is empty, every partition needs its own share of
// the free blocks rather than one partition holding them all. Index 0
// is never included: it is the catalog's reserved NULL sentinel and
// must never be handed out by Allocate.
func (l Layout) SeedInto(arena []byte, arenaBlocks, firstFree int) {
	if firstFree < 1 {
		firstFree = 1
	}
	for p := 0; p < l.Partitions; p++ {
		head := uint64(HeadTombstone)
		if start := firstFree + p; start < arenaBlocks {
			head = uint64(start)
		}
		binary.LittleEndian.PutUint64(arena[l.HeadAddr(p):], head)
	}
	for i := firstFree; i < arenaBlocks; i++ {
		next := uint64(HeadTombstone)
		if n := i + l.Partitions; n < arenaBlocks {
			next = uint64(n)
		}
		binary.LittleEndian.PutUint32(arena[l.NextAddr(uint32(i)):], uint32(next))
	}
}

// FreeList is a client-side handle to one memory node's free list. A
// FreeList is bound to a single QueuePair and, like a QueuePair, is
// not safe for concurrent use by multiple goroutines.
type FreeList struct {
	qp     *rmem.QueuePair
	node   uint32
	layout Layout

	k0, k1  uint64
	wrID    uint64
	nextCtr uint64
}

// New returns a FreeList bound to qp, addressing the node's free list
// per layout. k0/k1 are the siphash keys used to spread operations
// across partitions; any fixed pair is fine since the goal is
// contention reduction, not cryptographic unpredictability.
func New(qp *rmem.QueuePair, node uint32, layout Layout, k0, k1 uint64, wrID uint64) *FreeList {
	return &FreeList{qp: qp, node: node, layout: layout, k0: k0, k1: k1, wrID: wrID}
}

func (f *FreeList) pickPartition() int {
	f.nextCtr++
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], f.nextCtr)
	h := siphash.Hash(f.k0, f.k1, buf[:])
	return int(h % uint64(f.layout.Partitions))
}

func (f *FreeList) readU64(addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	if err := f.qp.Read(f.node, addr, buf, f.wrID); err != nil {
		return 0, err
	}
	if _, err := f.qp.WaitOne(f.wrID, nil); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (f *FreeList) readU32(addr uint64) (uint32, error) {
	buf := make([]byte, 4)
	if err := f.qp.Read(f.node, addr, buf, f.wrID); err != nil {
		return 0, err
	}
	if _, err := f.qp.WaitOne(f.wrID, nil); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (f *FreeList) writeNext(i uint32, v uint64) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return f.qp.Write(f.node, f.layout.NextAddr(i), buf, f.wrID, false)
}

func (f *FreeList) cas(addr, expected, new uint64) (uint64, error) {
	if err := f.qp.CAS(f.node, addr, expected, new, f.wrID); err != nil {
		return 0, err
	}
	c, err := f.qp.WaitOne(f.wrID, nil)
	if err != nil {
		return 0, err
	}
	return c.CASOld, nil
}

// Allocate pops a free block index. A fresh partition is chosen via
// siphash on every attempt, including CAS retries; if the chosen
// partition's stack is empty, Allocate fails immediately with
// ErrExhausted rather than trying the other partitions — an empty
// partition is treated as the node being out of memory, matching the
// single-partition fatal-check the remote allocator performs.
func (f *FreeList) Allocate() (uint32, error) {
	for {
		addr := f.layout.HeadAddr(f.pickPartition())
		h, err := f.readU64(addr)
		if err != nil {
			return 0, fmt.Errorf("freelist: read head: %w", err)
		}
		if h == HeadTombstone {
			return 0, ErrExhausted
		}
		next, err := f.readU32(f.layout.NextAddr(uint32(h)))
		if err != nil {
			return 0, fmt.Errorf("freelist: read next: %w", err)
		}
		// next[] entries are 32-bit; widen the end-of-chain marker back
		// to the 64-bit head tombstone.
		newHead := uint64(next)
		if next == uint32(HeadTombstone) {
			newHead = HeadTombstone
		}
		old, err := f.cas(addr, h, newHead)
		if err != nil {
			return 0, fmt.Errorf("freelist: cas head: %w", err)
		}
		if old == h {
			return uint32(h), nil
		}
		// lost the race; retry with a freshly chosen partition.
	}
}

// Deallocate pushes block b onto one randomly-chosen partition's
// stack, retrying on CAS contention.
func (f *FreeList) Deallocate(b uint32) error {
	p := f.pickPartition()
	addr := f.layout.HeadAddr(p)
	for {
		h, err := f.readU64(addr)
		if err != nil {
			return fmt.Errorf("freelist: read head: %w", err)
		}
		if err := f.writeNext(b, h); err != nil {
			return fmt.Errorf("freelist: write next: %w", err)
		}
		old, err := f.cas(addr, h, uint64(b))
		if err != nil {
			return fmt.Errorf("freelist: cas head: %w", err)
		}
		if old == h {
			return nil
		}
		// another thread changed the head between our read and our
		// CAS; next[b] may now point at a stale head, so loop and
		// rewrite it before retrying the swap.
	}
}
