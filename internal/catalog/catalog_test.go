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

package catalog

import (
	"testing"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/meta"
)

func TestGetUnsetIsNull(t *testing.T) {
	c := New(4)
	if got := c.Get(2); !got.IsNull() {
		t.Fatalf("Get(2) = %+v, want Null", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(4)
	want := block.RemotePtr{Node: 3, Offset: 7}
	c.Set(1, want)
	if got := c.Get(1); got != want {
		t.Fatalf("Get(1) = %+v, want %+v", got, want)
	}
}

func TestGetOutOfRangeIsNull(t *testing.T) {
	c := New(2)
	if got := c.Get(99); !got.IsNull() {
		t.Fatalf("Get(99) = %+v, want Null", got)
	}
}

func TestSetGrowsTable(t *testing.T) {
	c := New(1)
	c.Set(10, block.RemotePtr{Node: 1, Offset: 1})
	if c.NumTerms() != 11 {
		t.Fatalf("NumTerms() = %d, want 11", c.NumTerms())
	}
	if got := c.Get(10); got.IsNull() {
		t.Fatal("Get(10) is Null after Set")
	}
	if got := c.Get(5); !got.IsNull() {
		t.Fatalf("Get(5) = %+v, want Null (never set)", got)
	}
}

func TestBuildFromRecords(t *testing.T) {
	hdr := meta.Header{MemoryNodeID: 3}
	recs := []meta.Record{
		{Term: 0, FirstBlockOffset: 2},
		{Term: 5, FirstBlockOffset: 4},
	}
	c, err := Build(hdr, recs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.NumTerms() != 6 {
		t.Fatalf("NumTerms() = %d, want 6", c.NumTerms())
	}
	if got := c.Get(5); got != (block.RemotePtr{Node: 3, Offset: 4}) {
		t.Fatalf("Get(5) = %+v", got)
	}
}

func TestMergeIntoCombinesNodes(t *testing.T) {
	c := New(0)
	a, err := Build(meta.Header{MemoryNodeID: 1}, []meta.Record{{Term: 0, FirstBlockOffset: 2}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(meta.Header{MemoryNodeID: 2}, []meta.Record{{Term: 3, FirstBlockOffset: 9}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c.MergeInto(a)
	c.MergeInto(b)
	if got := c.Get(0); got != (block.RemotePtr{Node: 1, Offset: 2}) {
		t.Fatalf("Get(0) = %+v", got)
	}
	if got := c.Get(3); got != (block.RemotePtr{Node: 2, Offset: 9}) {
		t.Fatalf("Get(3) = %+v", got)
	}
}

func TestToRecordsSkipsNullAndOtherNodes(t *testing.T) {
	c := New(3)
	c.Set(1, block.RemotePtr{Node: 1, Offset: 1})
	c.Set(2, block.RemotePtr{Node: 9, Offset: 7})
	recs := c.ToRecords(1)
	if len(recs) != 1 || recs[0].Term != 1 {
		t.Fatalf("ToRecords(1) = %+v, want one record for term 1", recs)
	}
}
