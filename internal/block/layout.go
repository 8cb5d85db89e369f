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

import "fmt"

const (
	// WordSize is the width in bytes of a payload/version word.
	WordSize = 4
	// CacheLineSize is the width in bytes of a cache line.
	CacheLineSize = 64
	// WordsPerLine is the number of 32-bit words in a cache line.
	WordsPerLine = CacheLineSize / WordSize
	// FooterBytes is the size of the dynamic-block footer reserved
	// at the end of the last cache line.
	FooterBytes = 16
	// FooterWords is FooterBytes expressed in 32-bit words.
	FooterWords = FooterBytes / WordSize
	// MinBlockSize is the minimum permitted block size.
	MinBlockSize = 128

	// Tombstone marks an empty (or vacated) payload slot.
	Tombstone uint32 = 0xFFFFFFFF
)

// Layout precomputes the word-index geometry of a dynamic block of a
// given size: which words hold cache-line versions, which hold
// payload, and which are reserved for the footer. It is immutable and
// safe to share across blocks of the same size.
type Layout struct {
	BlockSize int
	Lines     int

	// payloadWords lists, in ascending order, every word index that
	// holds a payload (document id) slot.
	payloadWords []int
	// lineRange[cl] gives the half-open [start,end) range into
	// payloadWords owned by cache line cl.
	lineRange [][2]int
}

// NewLayout validates blockSize and returns its Layout.
func NewLayout(blockSize int) (Layout, error) {
	if blockSize < MinBlockSize {
		return Layout{}, fmt.Errorf("block size %d is below the minimum %d", blockSize, MinBlockSize)
	}
	if blockSize&(blockSize-1) != 0 {
		return Layout{}, fmt.Errorf("block size %d is not a power of two", blockSize)
	}
	if blockSize%CacheLineSize != 0 {
		return Layout{}, fmt.Errorf("block size %d is not cache-line aligned", blockSize)
	}
	lines := blockSize / CacheLineSize
	l := Layout{BlockSize: blockSize, Lines: lines}
	l.lineRange = make([][2]int, lines)
	for cl := 0; cl < lines; cl++ {
		base := cl * WordsPerLine
		start := len(l.payloadWords)
		// word 0 of every line is the cache-line version.
		firstPayload := base + 1
		lastExclusive := base + WordsPerLine
		if cl == lines-1 {
			// the last line reserves FooterWords at its end.
			lastExclusive -= FooterWords
		}
		for w := firstPayload; w < lastExclusive; w++ {
			l.payloadWords = append(l.payloadWords, w)
		}
		l.lineRange[cl] = [2]int{start, len(l.payloadWords)}
	}
	if len(l.payloadWords) < 2 {
		return Layout{}, fmt.Errorf("block size %d leaves no room for payload slots", blockSize)
	}
	return l, nil
}

// NumPayloadSlots returns the number of payload (document id) slots a
// block of this layout holds.
func (l Layout) NumPayloadSlots() int {
	return len(l.payloadWords)
}

// PayloadWord returns the byte-word index of payload slot i.
func (l Layout) PayloadWord(i int) int {
	return l.payloadWords[i]
}

// IsVersionWord reports whether wordIdx is a cache-line version slot.
func (l Layout) IsVersionWord(wordIdx int) bool {
	return wordIdx%WordsPerLine == 0
}

// LineOf returns the cache line owning payload slot i.
func (l Layout) LineOf(slot int) int {
	for cl, r := range l.lineRange {
		if slot >= r[0] && slot < r[1] {
			return cl
		}
	}
	return l.Lines - 1
}

// LineSlotRange returns the half-open [start, end) payload-slot range
// owned by cache line cl.
func (l Layout) LineSlotRange(cl int) (int, int) {
	r := l.lineRange[cl]
	return r[0], r[1]
}

// FooterWordStart returns the word index of the first footer word
// (the forward-pointer word), which is followed immediately by the
// flag word at FooterWordStart()+2.
func (l Layout) FooterWordStart() int {
	return l.BlockSize/WordSize - FooterWords
}

// VersionWordForLine returns the word index of cache line cl's
// version slot.
func (l Layout) VersionWordForLine(cl int) int {
	return cl * WordsPerLine
}

// FlagWordByteOffset returns the byte offset, within a block, of the
// footer's flag word — the remote CAS target for the per-block lock.
func (l Layout) FlagWordByteOffset() int {
	return (l.FooterWordStart() + 2) * WordSize
}
