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

package traverse

import "github.com/DatabaseGroup/rdma-inverted-index/internal/pqueue"

// frontier is a thin wrapper over internal/pqueue's (value, list)
// min-heap, holding one entry per still-open posting list in a union
// merge.
type frontier struct {
	items []pqueue.Item
}

func newFrontier() *frontier {
	return &frontier{}
}

func (f *frontier) len() int { return len(f.items) }

func (f *frontier) push(item pqueue.Item) {
	pqueue.Push(&f.items, item)
}

func (f *frontier) pop() pqueue.Item {
	return pqueue.Pop(&f.items)
}
