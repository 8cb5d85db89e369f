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

// Package query parses the line-oriented query file:
//
//	r: k1 k2 … kn        read query, keys ascending
//	i: uid k1 k2 … kn    insert uid into lists k1..kn
//	d: uid k1 k2 … kn    delete uid from lists k1..kn
//
// A "d:" line parses to a DELETE query. Deletion is parsed only:
// nothing in this module executes it (cmd/compute treats a DELETE
// query as a no-op).
package query

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/rbuf"
)

// Type identifies the operation a Query performs.
type Type int

const (
	READ Type = iota
	INSERT
	DELETE
)

func (t Type) String() string {
	switch t {
	case READ:
		return "READ"
	case INSERT:
		return "INSERT"
	case DELETE:
		return "DELETE"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Query is one parsed line of a query file. ID is the query's
// position in the file (0-based), used for round-robin routing and
// result ordering; it is not part of the file's own syntax.
type Query struct {
	ID       uint32
	Type     Type
	UpdateID uint32
	Keys     []uint32
}

// UserInputError marks a malformed query file line or an
// out-of-bounds key count — conditions spec.md's error taxonomy
// treats as a fatal precondition failure rather than a transient or
// protocol error.
type UserInputError struct {
	Line int
	Msg  string
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("query: line %d: %s", e.Line, e.Msg)
}

// Parse reads a full query file from r, assigning sequential ids in
// file order. Blank lines and lines starting with '#' are skipped.
func Parse(r io.Reader) ([]Query, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var queries []Query
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		q, err := parseLine(line, lineNo)
		if err != nil {
			return nil, err
		}
		q.ID = uint32(len(queries))
		queries = append(queries, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("query: scan: %w", err)
	}
	return queries, nil
}

func parseLine(line string, lineNo int) (Query, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Query{}, &UserInputError{Line: lineNo, Msg: "empty line"}
	}

	tag := fields[0]
	rest := fields[1:]

	switch tag {
	case "r:":
		keys, err := parseUint32s(rest, lineNo)
		if err != nil {
			return Query{}, err
		}
		if len(keys) == 0 {
			return Query{}, &UserInputError{Line: lineNo, Msg: "read query needs at least one key"}
		}
		if len(keys) > rbuf.MaxColumns {
			return Query{}, &UserInputError{Line: lineNo, Msg: fmt.Sprintf("read query has %d keys, exceeds max %d", len(keys), rbuf.MaxColumns)}
		}
		return Query{Type: READ, Keys: keys}, nil

	case "i:":
		if len(rest) < 2 {
			return Query{}, &UserInputError{Line: lineNo, Msg: "insert query needs a document id and at least one key"}
		}
		vals, err := parseUint32s(rest, lineNo)
		if err != nil {
			return Query{}, err
		}
		uid, keys := vals[0], vals[1:]
		if len(keys) > rbuf.MaxColumns {
			return Query{}, &UserInputError{Line: lineNo, Msg: fmt.Sprintf("insert query has %d keys, exceeds max %d", len(keys), rbuf.MaxColumns)}
		}
		return Query{Type: INSERT, UpdateID: uid, Keys: keys}, nil

	case "d:":
		if len(rest) < 2 {
			return Query{}, &UserInputError{Line: lineNo, Msg: "delete query needs a document id and at least one key"}
		}
		vals, err := parseUint32s(rest, lineNo)
		if err != nil {
			return Query{}, err
		}
		uid, keys := vals[0], vals[1:]
		return Query{Type: DELETE, UpdateID: uid, Keys: keys}, nil

	default:
		return Query{}, &UserInputError{Line: lineNo, Msg: fmt.Sprintf("unrecognized query tag %q", tag)}
	}
}

func parseUint32s(fields []string, lineNo int) ([]uint32, error) {
	vals := make([]uint32, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, &UserInputError{Line: lineNo, Msg: fmt.Sprintf("field %q is not a uint32: %v", f, err)}
		}
		vals[i] = uint32(n)
	}
	return vals, nil
}
