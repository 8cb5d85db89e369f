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

package block

// SplitBlock copies the upper half of b's payload (by occupancy, not
// capacity) into target, packing it at target's lowest slots, and
// tombstones the moved-out slots in b. It returns the first-free slot
// position in each of (b, target) after the move. b and target must
// share the same Layout.
func (b Block) SplitBlock(target Block) (bFree, targetFree int) {
	_, _, maxSlot := b.GetMinMax()
	count := maxSlot + 1
	mid := count / 2

	for i := mid; i < count; i++ {
		target.SetPayloadAt(i-mid, b.PayloadAt(i))
		b.SetPayloadAt(i, Tombstone)
	}
	for i := count - mid; i < target.Layout.NumPayloadSlots(); i++ {
		target.SetPayloadAt(i, Tombstone)
	}
	return mid, count - mid
}
