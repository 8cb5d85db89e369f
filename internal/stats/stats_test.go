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

package stats

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

func TestConcurrentIncrements(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.QueriesProcessed.Add(1)
			s.ResultsEmitted.Add(3)
		}()
	}
	wg.Wait()
	snap := s.Snapshot()
	if snap.QueriesProcessed != 100 {
		t.Fatalf("QueriesProcessed = %d, want 100", snap.QueriesProcessed)
	}
	if snap.ResultsEmitted != 300 {
		t.Fatalf("ResultsEmitted = %d, want 300", snap.ResultsEmitted)
	}
}

func TestPhaseTimingRecorded(t *testing.T) {
	s := New()
	s.StartPhase(PhaseTraverse)
	s.StopPhase(PhaseTraverse)
	snap := s.Snapshot()
	if _, ok := snap.PhaseTimingsMS["traverse"]; !ok {
		t.Fatalf("phase timings missing traverse: %+v", snap.PhaseTimingsMS)
	}
}

func TestStopPhaseWithoutStartIsNoop(t *testing.T) {
	s := New()
	s.StopPhase(PhaseUpdate)
	snap := s.Snapshot()
	if _, ok := snap.PhaseTimingsMS["update"]; ok {
		t.Fatal("expected no timing entry for a phase never started")
	}
}

func TestWriteJSONValid(t *testing.T) {
	s := New()
	s.QueriesProcessed.Add(5)
	var buf bytes.Buffer
	if err := s.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.QueriesProcessed != 5 {
		t.Fatalf("decoded QueriesProcessed = %d, want 5", decoded.QueriesProcessed)
	}
	if decoded.RunID == "" {
		t.Fatal("decoded RunID is empty")
	}
}
