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

// Command compute runs a compute node: it connects to every memory
// node named in the topology file, loads the term catalog, parses a
// query file, and dispatches each query across a worker pool —
// executing k-way intersection/union for reads and
// find-block-and-insert for inserts.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/block"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/catalog"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/config"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/dispatch"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/freelist"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/meta"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/query"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rbuf"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/stats"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/traverse"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/update"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	if cfg.Role != config.RoleClient {
		log.Fatalf("compute: -role must be %q, got %q", config.RoleClient, cfg.Role)
	}
	if cfg.TopologyFile == "" {
		log.Fatalf("compute: -topology is required")
	}

	top, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}

	layout, err := block.NewLayout(cfg.BlockSize)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}

	qps, err := dialMemoryNodes(top.MemoryNodes)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}
	defer closeAll(qps)

	cat, err := loadCatalog(cfg.IndexDir)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}

	queries, err := loadQueries(cfg.QueryFile)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}

	st := stats.New()
	st.StartPhase(stats.PhaseDispatch)

	pool := dispatch.NewPool(cfg.NumComputeThreads)
	var mu sync.Mutex
	results := make(map[uint32][]uint32, len(queries))

	err = pool.Run(len(queries), func(i int) error {
		q := queries[i]
		out, err := execute(q, layout, qps, cat, cfg, st)
		if err != nil {
			return err
		}
		if out != nil {
			mu.Lock()
			results[q.ID] = out
			mu.Unlock()
		}
		st.QueriesProcessed.Add(1)
		return nil
	})
	st.StopPhase(stats.PhaseDispatch)
	if err != nil {
		log.Fatalf("compute: %v", err)
	}

	for _, q := range queries {
		if out, ok := results[q.ID]; ok {
			st.ResultsEmitted.Add(int64(len(out)))
			fmt.Printf("%d: %v\n", q.ID, out)
		}
	}
	if err := st.WriteJSON(os.Stdout); err != nil {
		log.Fatalf("compute: %v", err)
	}
}

func execute(q query.Query, layout block.Layout, qps map[uint32]*rmem.QueuePair, cat *catalog.Catalog, cfg *config.Config, st *stats.Stats) ([]uint32, error) {
	switch q.Type {
	case query.READ:
		heads := make([]block.RemotePtr, len(q.Keys))
		for i, k := range q.Keys {
			heads[i] = cat.Get(k)
		}
		rb, err := rbuf.New(qps[firstNode(qps)], layout, len(heads), rbuf.DefaultDepth)
		if err != nil {
			return nil, err
		}
		if cfg.Operation == config.OpUnion {
			return traverse.Union(rb, heads)
		}
		return traverse.Intersect(rb, heads)

	case query.INSERT:
		alloc := newAllocator(qps, cfg)
		rb, err := rbuf.New(qps[firstNode(qps)], layout, 1, rbuf.DefaultDepth)
		if err != nil {
			return nil, err
		}
		up := update.New(qps, layout, cat, alloc, rb, 0, uint64(q.ID)+1000)
		for _, k := range q.Keys {
			if err := up.Insert(k, q.UpdateID); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case query.DELETE:
		// Parsed but unimplemented: no block reclamation is attempted.
		return nil, nil

	default:
		return nil, fmt.Errorf("compute: unknown query type %v", q.Type)
	}
}

func firstNode(qps map[uint32]*rmem.QueuePair) uint32 {
	for node := range qps {
		return node
	}
	return 0
}

func dialMemoryNodes(addrs []string) (map[uint32]*rmem.QueuePair, error) {
	qps := make(map[uint32]*rmem.QueuePair, len(addrs))
	for i, addr := range addrs {
		qp, err := rmem.Dial(addr, 1024)
		if err != nil {
			return nil, fmt.Errorf("dial memory node %d at %s: %w", i, addr, err)
		}
		qps[uint32(i)] = qp
	}
	return qps, nil
}

func closeAll(qps map[uint32]*rmem.QueuePair) {
	for _, qp := range qps {
		qp.Close()
	}
}

func newAllocator(qps map[uint32]*rmem.QueuePair, cfg *config.Config) *update.MultiNodeAllocator {
	layout := freelist.LayoutFor(cfg.BlockSize, cfg.ArenaBlocks, cfg.FreeListPartitions)
	nodes := make([]uint32, 0, len(qps))
	lists := make(map[uint32]*freelist.FreeList, len(qps))
	for node, qp := range qps {
		nodes = append(nodes, node)
		fl := freelist.New(qp, node, layout, 0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9, 1)
		lists[node] = fl
	}
	return update.NewMultiNodeAllocator(nodes, lists)
}

func loadCatalog(indexDir string) (*catalog.Catalog, error) {
	matches, err := filepath.Glob(filepath.Join(indexDir, "*.meta"))
	if err != nil {
		return nil, fmt.Errorf("glob meta files: %w", err)
	}
	cat := catalog.New(0)
	for _, path := range matches {
		hdr, recs, err := meta.ReadFile(path)
		if err != nil {
			return nil, err
		}
		part, err := catalog.Build(hdr, recs)
		if err != nil {
			return nil, err
		}
		cat.MergeInto(part)
	}
	return cat, nil
}

func loadQueries(path string) ([]query.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query file %s: %w", path, err)
	}
	defer f.Close()
	return query.Parse(f)
}
