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

package pqueue

import (
	"math/rand"
	"testing"
)

func TestPushPopOrdersByValue(t *testing.T) {
	x := make([]Item, 0, 1000)
	for len(x) < cap(x) {
		Push(&x, Item{Value: uint32(rand.Intn(1 << 20)), List: len(x)})
	}
	var lastValue uint32
	haveLast := false
	for len(x) > 0 {
		it := Pop(&x)
		if haveLast && it.Value < lastValue {
			t.Fatalf("popped %d after %d, not sorted", it.Value, lastValue)
		}
		lastValue, haveLast = it.Value, true
	}
}

func TestPopBreaksTiesByList(t *testing.T) {
	x := []Item{}
	Push(&x, Item{Value: 5, List: 2})
	Push(&x, Item{Value: 1, List: 0})
	Push(&x, Item{Value: 5, List: 1})
	Push(&x, Item{Value: 3, List: 3})

	want := []Item{{Value: 1, List: 0}, {Value: 3, List: 3}, {Value: 5, List: 1}, {Value: 5, List: 2}}
	for i, w := range want {
		got := Pop(&x)
		if got != w {
			t.Fatalf("pop %d = %+v, want %+v", i, got, w)
		}
	}
}
