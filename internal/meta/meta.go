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

// Package meta reads and writes the binary meta file produced by the
// offline partitioner for one memory node's partition: a flat
// sequence of little-endian u32s,
//
//	[ memory_node_id, universe_size, num_init_blocks, block_size,
//	  (term_i, first_block_offset_i) x num_init_blocks ]
//
// with no magic, version, or length-prefixed framing beyond that —
// the four header words and the record count together tell a reader
// everything it needs, and this is the literal wire shape an external
// partitioner is expected to emit, not a self-describing codec.
package meta

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const headerWords = 4  // memory_node_id, universe_size, num_init_blocks, block_size
const wordSize = 4
const recordWords = 2 // term, first_block_offset
const recordSize = recordWords * wordSize

// Header is the per-partition file header: which memory node this
// partition belongs to, the total term universe size, how many
// (term, offset) records follow, and the block size the offsets are
// expressed in.
type Header struct {
	MemoryNodeID  uint32
	UniverseSize  uint32
	NumInitBlocks uint32
	BlockSize     uint32
}

// Record is one term's entry: its id and the block index of its first
// block within the node named by the enclosing Header.
type Record struct {
	Term             uint32
	FirstBlockOffset uint32
}

// Read parses a meta file from r, returning its header and one Record
// per term in file order (ascending term id is expected but not
// enforced here).
func Read(r io.Reader) (Header, []Record, error) {
	hdr := make([]byte, headerWords*wordSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Header{}, nil, fmt.Errorf("meta: read header: %w", err)
	}
	h := Header{
		MemoryNodeID:  binary.LittleEndian.Uint32(hdr[0:]),
		UniverseSize:  binary.LittleEndian.Uint32(hdr[4:]),
		NumInitBlocks: binary.LittleEndian.Uint32(hdr[8:]),
		BlockSize:     binary.LittleEndian.Uint32(hdr[12:]),
	}

	recs := make([]Record, h.NumInitBlocks)
	buf := make([]byte, recordSize)
	for i := range recs {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Header{}, nil, fmt.Errorf("meta: read record %d: %w", i, err)
		}
		recs[i] = Record{
			Term:             binary.LittleEndian.Uint32(buf[0:]),
			FirstBlockOffset: binary.LittleEndian.Uint32(buf[4:]),
		}
	}
	return h, recs, nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("meta: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Write serializes hdr and recs to w in file order. hdr.NumInitBlocks
// is overwritten with len(recs) so the two can never disagree on disk.
func Write(w io.Writer, hdr Header, recs []Record) error {
	hdr.NumInitBlocks = uint32(len(recs))
	out := make([]byte, headerWords*wordSize)
	binary.LittleEndian.PutUint32(out[0:], hdr.MemoryNodeID)
	binary.LittleEndian.PutUint32(out[4:], hdr.UniverseSize)
	binary.LittleEndian.PutUint32(out[8:], hdr.NumInitBlocks)
	binary.LittleEndian.PutUint32(out[12:], hdr.BlockSize)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("meta: write header: %w", err)
	}
	buf := make([]byte, recordSize)
	for _, rec := range recs {
		binary.LittleEndian.PutUint32(buf[0:], rec.Term)
		binary.LittleEndian.PutUint32(buf[4:], rec.FirstBlockOffset)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("meta: write record: %w", err)
		}
	}
	return nil
}

// WriteFile serializes hdr and recs to a new file at path.
func WriteFile(path string, hdr Header, recs []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("meta: create %s: %w", path, err)
	}
	defer f.Close()
	return Write(f, hdr, recs)
}
