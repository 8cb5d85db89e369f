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

package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPoolProcessesEachIndexExactlyOnce(t *testing.T) {
	const numQueries = 5000
	p := NewPool(8)

	var mu sync.Mutex
	seen := make([]int, numQueries)

	err := p.Run(numQueries, func(i int) error {
		mu.Lock()
		seen[i]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, n := range seen {
		if n != 1 {
			t.Fatalf("index %d processed %d times, want 1", i, n)
		}
	}
}

func TestPoolFewerQueriesThanWorkers(t *testing.T) {
	p := NewPool(32)
	var count atomic.Int64
	err := p.Run(3, func(i int) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count.Load() != 3 {
		t.Fatalf("count = %d, want 3", count.Load())
	}
}

func TestPoolZeroQueries(t *testing.T) {
	p := NewPool(4)
	called := false
	if err := p.Run(0, func(i int) error { called = true; return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Fatal("proc called with zero queries")
	}
}

func TestPoolPropagatesError(t *testing.T) {
	p := NewPool(4)
	wantErr := fmt.Errorf("boom")
	err := p.Run(100, func(i int) error {
		if i == 42 {
			return wantErr
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRouteNodeRoundRobin(t *testing.T) {
	const numNodes = 4
	counts := make([]int, numNodes)
	for id := uint32(0); id < 100; id++ {
		counts[RouteNode(id, numNodes)]++
	}
	for n, c := range counts {
		if c != 25 {
			t.Fatalf("node %d got %d queries, want 25", n, c)
		}
	}
}

func TestRouteNodeZeroNodes(t *testing.T) {
	if got := RouteNode(7, 0); got != 0 {
		t.Fatalf("RouteNode with zero nodes = %d, want 0", got)
	}
}
