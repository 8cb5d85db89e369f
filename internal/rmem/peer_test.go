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

package rmem

import (
	"bytes"
	"testing"
)

func TestPeerSendRecvOrdering(t *testing.T) {
	pl := NewPeerListener(8)
	addr, err := pl.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pl.Close() })

	conn, err := DialPeer(addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	payloads := [][]byte{[]byte("first"), []byte("second"), {}}
	for _, p := range payloads {
		if err := conn.Send(p); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range payloads {
		got := pl.Recv()
		if !bytes.Equal(got, want) {
			t.Fatalf("recv = %q, want %q", got, want)
		}
	}
}

func TestPeerMultipleSenders(t *testing.T) {
	pl := NewPeerListener(16)
	addr, err := pl.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pl.Close() })

	const senders = 3
	const perSender = 4
	for s := 0; s < senders; s++ {
		conn, err := DialPeer(addr)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { conn.Close() })
		for i := 0; i < perSender; i++ {
			if err := conn.Send([]byte{byte(s), byte(i)}); err != nil {
				t.Fatal(err)
			}
		}
	}

	seen := map[[2]byte]int{}
	for i := 0; i < senders*perSender; i++ {
		got := pl.Recv()
		if len(got) != 2 {
			t.Fatalf("recv payload length = %d, want 2", len(got))
		}
		seen[[2]byte{got[0], got[1]}]++
	}
	for s := 0; s < senders; s++ {
		for i := 0; i < perSender; i++ {
			key := [2]byte{byte(s), byte(i)}
			if seen[key] != 1 {
				t.Fatalf("payload %v seen %d times, want 1", key, seen[key])
			}
		}
	}
}
