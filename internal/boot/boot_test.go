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

package boot

import (
	"testing"
)

func TestDialAcceptExchangesHellos(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Hello{Role: RoleMemoryNode, ID: 0})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	type result struct {
		peer Hello
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		_, peer, err := ln.Accept()
		acceptCh <- result{peer, err}
	}()

	conn, peer, err := Dial(ln.Addr(), Hello{Role: RoleComputeNode, ID: 3})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if peer.Role != RoleMemoryNode || peer.ID != 0 {
		t.Fatalf("dialer saw peer = %+v", peer)
	}

	got := <-acceptCh
	if got.err != nil {
		t.Fatalf("Accept: %v", got.err)
	}
	if got.peer.Role != RoleComputeNode || got.peer.ID != 3 {
		t.Fatalf("acceptor saw peer = %+v", got.peer)
	}
}

func TestDialBadAddr(t *testing.T) {
	if _, _, err := Dial("127.0.0.1:0", Hello{}); err == nil {
		t.Fatal("expected dial error for unused port with no listener")
	}
}
