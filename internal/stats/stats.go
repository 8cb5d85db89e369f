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

// Package stats accumulates per-run counters across every worker and
// dumps them as JSON at exit, the same Start/Stop/Print shape
// cmd/sneller's execStatistics uses, generalized from a single
// scan-rate counter to the counter set spec.md §6 names.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase names a span of work timed independently.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseTraverse Phase = "traverse"
	PhaseUpdate   Phase = "update"
	PhaseDispatch Phase = "dispatch"
)

// Stats is a concurrency-safe counter set. Every counter is an
// atomic.Int64 rather than a mutex-guarded struct field: workers
// increment from arbitrary goroutines mid-traversal, and a lock per
// increment would serialize exactly the hot path this fabric exists
// to keep cheap.
type Stats struct {
	RunID uuid.UUID

	QueriesProcessed    atomic.Int64
	ResultsEmitted      atomic.Int64
	BytesReadRemote     atomic.Int64
	RemoteAllocations   atomic.Int64
	RemoteDeallocations atomic.Int64
	RepeatedBlockReads  atomic.Int64
	RepeatedListReads   atomic.Int64
	CASLockFailures     atomic.Int64

	phaseMu sync.Mutex
	phases  map[Phase]*phaseTimer
}

type phaseTimer struct {
	total time.Duration
	start time.Time
	open  bool
}

// New allocates a Stats with a fresh run id.
func New() *Stats {
	return &Stats{RunID: uuid.New(), phases: make(map[Phase]*phaseTimer)}
}

// StartPhase marks p as begun. Nested or resumed spans of the same
// phase accumulate into one total.
func (s *Stats) StartPhase(p Phase) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	t := s.phases[p]
	if t == nil {
		t = &phaseTimer{}
		s.phases[p] = t
	}
	t.start = time.Now()
	t.open = true
}

// StopPhase closes the currently open span of p, adding its duration
// to the phase's running total. Calling StopPhase without a matching
// StartPhase is a no-op.
func (s *Stats) StopPhase(p Phase) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	t := s.phases[p]
	if t == nil || !t.open {
		return
	}
	t.total += time.Since(t.start)
	t.open = false
}

// Snapshot is the JSON-serializable view of a Stats at a point in
// time.
type Snapshot struct {
	RunID               string           `json:"run_id"`
	QueriesProcessed    int64            `json:"queries_processed"`
	ResultsEmitted      int64            `json:"results_emitted"`
	BytesReadRemote     int64            `json:"bytes_read_remote"`
	RemoteAllocations   int64            `json:"remote_allocations"`
	RemoteDeallocations int64            `json:"remote_deallocations"`
	RepeatedBlockReads  int64            `json:"repeated_block_reads"`
	RepeatedListReads   int64            `json:"repeated_list_reads"`
	CASLockFailures     int64            `json:"cas_lock_failures"`
	PhaseTimingsMS      map[string]int64 `json:"phase_timings_ms"`
}

// Snapshot reads the current counter values and closed-span phase
// totals into a serializable Snapshot. Any phase still open when
// Snapshot is called contributes only its total up to the last
// StopPhase, not the still-running span.
func (s *Stats) Snapshot() Snapshot {
	s.phaseMu.Lock()
	timings := make(map[string]int64, len(s.phases))
	for p, t := range s.phases {
		timings[string(p)] = t.total.Milliseconds()
	}
	s.phaseMu.Unlock()

	return Snapshot{
		RunID:               s.RunID.String(),
		QueriesProcessed:    s.QueriesProcessed.Load(),
		ResultsEmitted:      s.ResultsEmitted.Load(),
		BytesReadRemote:     s.BytesReadRemote.Load(),
		RemoteAllocations:   s.RemoteAllocations.Load(),
		RemoteDeallocations: s.RemoteDeallocations.Load(),
		RepeatedBlockReads:  s.RepeatedBlockReads.Load(),
		RepeatedListReads:   s.RepeatedListReads.Load(),
		CASLockFailures:     s.CASLockFailures.Load(),
		PhaseTimingsMS:      timings,
	}
}

// WriteJSON dumps the current Snapshot to w as indented JSON.
func (s *Stats) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("stats: encode: %w", err)
	}
	return nil
}
