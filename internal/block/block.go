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

import "encoding/binary"

// Block is a view over a raw, block-sized byte buffer laid out per
// Layout. It performs only local computations; nothing in this type
// touches the fabric.
type Block struct {
	Buf    []byte
	Layout Layout
}

// New wraps buf (which must be exactly Layout.BlockSize bytes) as a
// Block.
func New(buf []byte, l Layout) Block {
	return Block{Buf: buf, Layout: l}
}

func (b Block) wordAt(i int) uint32 {
	return binary.LittleEndian.Uint32(b.Buf[i*WordSize:])
}

func (b Block) setWordAt(i int, v uint32) {
	binary.LittleEndian.PutUint32(b.Buf[i*WordSize:], v)
}

func (b Block) u64At(wordIdx int) uint64 {
	return binary.LittleEndian.Uint64(b.Buf[wordIdx*WordSize:])
}

func (b Block) setU64At(wordIdx int, v uint64) {
	binary.LittleEndian.PutUint64(b.Buf[wordIdx*WordSize:], v)
}

// PayloadAt returns the value stored in payload slot i.
func (b Block) PayloadAt(i int) uint32 {
	return b.wordAt(b.Layout.PayloadWord(i))
}

// SetPayloadAt writes v into payload slot i.
func (b Block) SetPayloadAt(i int, v uint32) {
	b.setWordAt(b.Layout.PayloadWord(i), v)
}

// ForwardPtr decodes the block's forward-pointer footer word.
func (b Block) ForwardPtr() FwdPtr {
	return DecodeFwdPtr(b.u64At(b.Layout.FooterWordStart()))
}

// SetForwardPtr encodes f into the block's forward-pointer footer word.
func (b Block) SetForwardPtr(f FwdPtr) {
	b.setU64At(b.Layout.FooterWordStart(), EncodeFwdPtr(f))
}

// FlagWord decodes the block's flag footer word.
func (b Block) FlagWord() FlagWord {
	return DecodeFlagWord(b.u64At(b.Layout.FooterWordStart() + 2))
}

// SetFlagWord encodes f into the block's flag footer word.
func (b Block) SetFlagWord(f FlagWord) {
	b.setU64At(b.Layout.FooterWordStart()+2, f.Encode())
}

// IsLocked reports whether the block's lock bit is set.
func (b Block) IsLocked() bool {
	return b.FlagWord().Lock
}

// SetLock sets the lock bit, preserving tag and version.
func (b Block) SetLock() {
	f := b.FlagWord()
	f.Lock = true
	b.SetFlagWord(f)
}

// SetUnlock clears the lock bit, preserving tag and version.
func (b Block) SetUnlock() {
	f := b.FlagWord()
	f.Lock = false
	b.SetFlagWord(f)
}

// GetBlockTag returns the block's current b_tag.
func (b Block) GetBlockTag() uint16 {
	return b.FlagWord().BTag
}

// SetBlockTag overwrites the block's b_tag, preserving lock and version.
func (b Block) SetBlockTag(tag uint16) {
	f := b.FlagWord()
	f.BTag = tag
	b.SetFlagWord(f)
}

// GetRemotePtrTag returns the pointer tag of the forward pointer.
func (b Block) GetRemotePtrTag() uint16 {
	return b.ForwardPtr().PTag
}

// GetRemotePtr decodes the forward pointer, returning Null if it
// addresses the (0,0) sentinel.
func (b Block) GetRemotePtr() RemotePtr {
	f := b.ForwardPtr()
	if f.IsNull() {
		return Null
	}
	return f.RemotePtr()
}

// Version returns the version recorded in the flag word (word B),
// which is kept equal to every cache-line version word in a valid
// block.
func (b Block) Version() uint32 {
	return b.FlagWord().Version
}

// IncreaseCacheLineVersions is the pre-commit step: it writes v+1
// into every cache-line version word and into the flag word's version
// field, preserving the tag and lock bit.
func (b Block) IncreaseCacheLineVersions() {
	next := b.Version() + 1
	for cl := 0; cl < b.Layout.Lines; cl++ {
		b.setWordAt(b.Layout.VersionWordForLine(cl), next)
	}
	f := b.FlagWord()
	f.Version = next
	b.SetFlagWord(f)
}

// ValidateCacheLines checks that every cache-line version word agrees
// with every other and with the flag word's version field. A block
// observed with ValidateCacheLines() == false was torn by a
// concurrent writer and must be re-read.
func (b Block) ValidateCacheLines() bool {
	want := b.Version()
	for cl := 0; cl < b.Layout.Lines; cl++ {
		if b.wordAt(b.Layout.VersionWordForLine(cl)) != want {
			return false
		}
	}
	return true
}

// IsFull reports whether the second-to-last payload slot holds a
// non-tombstone value — the reserved "full" sentinel position that
// lets is_full be computed without a full scan.
func (b Block) IsFull() bool {
	n := b.Layout.NumPayloadSlots()
	idx := n - 2
	if idx < 0 {
		idx = n - 1
	}
	return b.PayloadAt(idx) != Tombstone
}

// GetMinMax returns the first payload value, the last non-tombstone
// payload value, and the slot index of that last value. If the block
// has no non-tombstone payload, maxSlot is -1 and max is Tombstone.
func (b Block) GetMinMax() (min, max uint32, maxSlot int) {
	n := b.Layout.NumPayloadSlots()
	min = b.PayloadAt(0)
	maxSlot = -1
	max = Tombstone
	for i := n - 1; i >= 0; i-- {
		if v := b.PayloadAt(i); v != Tombstone {
			max, maxSlot = v, i
			break
		}
	}
	return
}
