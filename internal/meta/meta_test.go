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

package meta

import (
	"bytes"
	"reflect"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	wantHdr := Header{MemoryNodeID: 3, UniverseSize: 100, BlockSize: 4096}
	wantRecs := []Record{
		{Term: 0, FirstBlockOffset: 1},
		{Term: 1, FirstBlockOffset: 5},
		{Term: 2, FirstBlockOffset: 9},
	}
	var buf bytes.Buffer
	if err := Write(&buf, wantHdr, wantRecs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	gotHdr, gotRecs, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	wantHdr.NumInitBlocks = uint32(len(wantRecs))
	if gotHdr != wantHdr {
		t.Fatalf("Read() header = %+v, want %+v", gotHdr, wantHdr)
	}
	if !reflect.DeepEqual(gotRecs, wantRecs) {
		t.Fatalf("Read() records = %+v, want %+v", gotRecs, wantRecs)
	}
}

func TestReadEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Header{MemoryNodeID: 1}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	hdr, recs, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hdr.NumInitBlocks != 0 || len(recs) != 0 {
		t.Fatalf("hdr = %+v, len(recs) = %d, want 0/0", hdr, len(recs))
	}
}

func TestReadShortHeader(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, headerWords*wordSize-1))
	if _, _, err := Read(buf); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Header{MemoryNodeID: 1}, []Record{{Term: 1, FirstBlockOffset: 1}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	if _, _, err := Read(truncated); err == nil {
		t.Fatal("expected error for truncated record")
	}
}
