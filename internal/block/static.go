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

// StaticBlock is the document-partitioned / term-partitioned static
// index variant: no versioning, no tags, no lock. Its footer is a
// plain two-word (next_node, next_offset) forward pointer occupying
// the last 8 bytes of the block; every other word is payload.
type StaticBlock struct {
	Buf       []byte
	BlockSize int
}

// NewStatic wraps buf as a StaticBlock.
func NewStatic(buf []byte, blockSize int) StaticBlock {
	return StaticBlock{Buf: buf, BlockSize: blockSize}
}

func (b StaticBlock) numPayloadWords() int {
	return b.BlockSize/WordSize - 2
}

// NumPayloadSlots returns the number of document-id slots.
func (b StaticBlock) NumPayloadSlots() int {
	return b.numPayloadWords()
}

// PayloadAt returns the value stored in payload slot i.
func (b StaticBlock) PayloadAt(i int) uint32 {
	return Block{Buf: b.Buf}.wordAt(i)
}

// SetPayloadAt writes v into payload slot i.
func (b StaticBlock) SetPayloadAt(i int, v uint32) {
	Block{Buf: b.Buf}.setWordAt(i, v)
}

// ForwardPtr decodes the (next_node, next_offset) footer.
func (b StaticBlock) ForwardPtr() RemotePtr {
	blk := Block{Buf: b.Buf}
	base := b.numPayloadWords()
	return RemotePtr{
		Node:   blk.wordAt(base),
		Offset: blk.wordAt(base + 1),
	}
}

// SetForwardPtr encodes p into the (next_node, next_offset) footer.
func (b StaticBlock) SetForwardPtr(p RemotePtr) {
	blk := Block{Buf: b.Buf}
	base := b.numPayloadWords()
	blk.setWordAt(base, p.Node)
	blk.setWordAt(base+1, p.Offset)
}
