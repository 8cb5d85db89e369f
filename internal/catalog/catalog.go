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

// Package catalog holds the term id -> first-block RemotePtr mapping.
// Term ids are dense (assigned at index-build time from 0), so a
// flat slice indexed by term id is the natural representation rather
// than a hash map.
package catalog

import (
	"sync"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/meta"
)

// Catalog is a concurrency-safe, dense term id -> RemotePtr table. It
// satisfies update.Catalog.
type Catalog struct {
	mu   sync.RWMutex
	ptrs []block.RemotePtr
}

// New allocates a Catalog with numTerms entries, all initialized to
// block.Null.
func New(numTerms int) *Catalog {
	return &Catalog{ptrs: make([]block.RemotePtr, numTerms)}
}

// Build constructs a Catalog from one partition's parsed meta header
// and records, sizing the table to the largest term id seen plus one.
// The node a record's block lives on is the header's MemoryNodeID,
// not carried per record: a meta file is produced by the partitioner
// for exactly one memory node, so every record in it shares that
// node. Records are expected to carry dense, small term ids (assigned
// at index-build time); a sparse or huge term id here would waste
// memory the same way it would in the original index builder, so
// callers are expected to have renumbered terms before writing a meta
// file. Call Build once per partition file and merge with MergeInto
// when a catalog spans multiple nodes.
func Build(hdr meta.Header, recs []meta.Record) (*Catalog, error) {
	maxTerm := uint32(0)
	for _, r := range recs {
		if r.Term > maxTerm {
			maxTerm = r.Term
		}
	}
	c := New(int(maxTerm) + 1)
	for _, r := range recs {
		c.Set(r.Term, block.RemotePtr{Node: hdr.MemoryNodeID, Offset: r.FirstBlockOffset})
	}
	return c, nil
}

// MergeInto copies every non-null entry of src into c, growing c's
// table as needed. Used to fold one partition's Catalog (built via
// Build) into a compute node's combined multi-node catalog.
func (c *Catalog) MergeInto(src *Catalog) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	for term, ptr := range src.ptrs {
		if ptr.IsNull() {
			continue
		}
		c.Set(uint32(term), ptr)
	}
}

// Get returns term's first-block pointer, or block.Null if term is
// out of range or was never set.
func (c *Catalog) Get(term uint32) block.RemotePtr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(term) >= len(c.ptrs) {
		return block.Null
	}
	return c.ptrs[term]
}

// Set records term's first-block pointer, growing the table if term
// is beyond its current size.
func (c *Catalog) Set(term uint32, ptr block.RemotePtr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(term) >= len(c.ptrs) {
		grown := make([]block.RemotePtr, term+1)
		copy(grown, c.ptrs)
		c.ptrs = grown
	}
	c.ptrs[term] = ptr
}

// NumTerms reports the size of the dense table.
func (c *Catalog) NumTerms() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ptrs)
}

// ToRecords flattens the catalog back into meta records for a single
// node, skipping terms that are still block.Null (never populated) or
// that live on a different node than node. A combined multi-node
// catalog has no single MemoryNodeID of its own, so the caller must
// say which node's partition it wants serialized.
func (c *Catalog) ToRecords(node uint32) []meta.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs := make([]meta.Record, 0, len(c.ptrs))
	for term, ptr := range c.ptrs {
		if ptr.IsNull() || ptr.Node != node {
			continue
		}
		recs = append(recs, meta.Record{Term: uint32(term), FirstBlockOffset: ptr.Offset})
	}
	return recs
}
