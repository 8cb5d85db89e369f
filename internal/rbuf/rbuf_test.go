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

package rbuf

import (
	"testing"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

func newLoopback(t *testing.T, arenaSize int) (*rmem.Server, *rmem.QueuePair) {
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
	return srv, qp
}

func TestPostReadDelivers(t *testing.T) {
	layout, err := block.NewLayout(256)
	if err != nil {
		t.Fatal(err)
	}
	_, qp := newLoopback(t, layout.BlockSize*4)

	// seed a valid, freshly-versioned block directly in the server arena.
	src := block.New(make([]byte, layout.BlockSize), layout)
	for i := 0; i < layout.NumPayloadSlots(); i++ {
		src.SetPayloadAt(i, block.Tombstone)
	}
	src.SetPayloadAt(0, 42)
	src.IncreaseCacheLineVersions()
	if err := qp.Write(0, layout.BlockSize, src.Buf, 1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := qp.WaitOne(1, nil); err != nil {
		t.Fatal(err)
	}

	rb, err := New(qp, layout, 1, DefaultDepth)
	if err != nil {
		t.Fatal(err)
	}
	ptr := block.RemotePtr{Node: 0, Offset: 1}
	if err := rb.PostRead(0, 0, ptr); err != nil {
		t.Fatal(err)
	}
	c, err := qp.WaitOne(rmem.EncodeWRID(0, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rb.OnCompletion(c); err != nil {
		t.Fatal(err)
	}
	slot := rb.Slot(0, 0)
	if !slot.Ready || !slot.IsValid {
		t.Fatal("slot should be ready and valid after a clean read completion")
	}
	if got := slot.Block(layout).PayloadAt(0); got != 42 {
		t.Fatalf("payload[0] = %d, want 42", got)
	}
}

func TestOnCompletionReissuesOnTornRead(t *testing.T) {
	layout, err := block.NewLayout(256)
	if err != nil {
		t.Fatal(err)
	}
	_, qp := newLoopback(t, layout.BlockSize*4)

	torn := block.New(make([]byte, layout.BlockSize), layout)
	for i := 0; i < layout.NumPayloadSlots(); i++ {
		torn.SetPayloadAt(i, block.Tombstone)
	}
	torn.IncreaseCacheLineVersions()
	// tear: bump the flag word's version without updating the
	// cache-line version words, simulating a write caught mid-flight.
	f := torn.FlagWord()
	f.Version++
	torn.SetFlagWord(f)
	if err := qp.Write(0, 0, torn.Buf, 1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := qp.WaitOne(1, nil); err != nil {
		t.Fatal(err)
	}

	rb, err := New(qp, layout, 1, DefaultDepth)
	if err != nil {
		t.Fatal(err)
	}
	ptr := block.RemotePtr{Node: 0, Offset: 0}
	if err := rb.PostRead(0, 0, ptr); err != nil {
		t.Fatal(err)
	}
	c, err := qp.WaitOne(rmem.EncodeWRID(0, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rb.OnCompletion(c); err != nil {
		t.Fatal(err)
	}
	slot := rb.Slot(0, 0)
	if slot.Ready {
		t.Fatal("a torn read must not be marked ready; OnCompletion should have reissued it")
	}
}

func TestNewRejectsTooManyColumns(t *testing.T) {
	layout, err := block.NewLayout(128)
	if err != nil {
		t.Fatal(err)
	}
	_, qp := newLoopback(t, layout.BlockSize)
	if _, err := New(qp, layout, MaxColumns+1, DefaultDepth); err == nil {
		t.Fatal("expected an error for a column count above READ_BUFFER_LENGTH")
	}
}
