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

// Command memnode runs a passive memory node: it loads its partition
// of the index into a raw byte arena, seeds the unused remainder onto
// a free list, and answers READ/WRITE/CAS requests from compute nodes
// until killed.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/boot"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/config"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/freelist"
	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("memnode: %v", err)
	}
	if cfg.Role != config.RoleServer {
		log.Fatalf("memnode: -role must be %q, got %q", config.RoleServer, cfg.Role)
	}

	layout := freelist.LayoutFor(cfg.BlockSize, cfg.ArenaBlocks, cfg.FreeListPartitions)
	arenaBytes := layout.ArenaBytes(cfg.ArenaBlocks)

	partition, err := loadPartition(cfg.IndexDir, cfg.ClientID)
	if err != nil {
		log.Fatalf("memnode: %v", err)
	}
	blockArenaBytes := int64(cfg.ArenaBlocks) * int64(cfg.BlockSize)
	if int64(len(partition)) > blockArenaBytes {
		log.Fatalf("memnode %d: partition file is %d bytes, exceeds %d-byte block arena (raise -arena_blocks)",
			cfg.ClientID, len(partition), blockArenaBytes)
	}
	numInitBlocks := len(partition) / cfg.BlockSize

	srv := rmem.NewServer(cfg.ClientID, int(arenaBytes))
	copy(srv.Arena, partition)
	layout.SeedInto(srv.Arena, cfg.ArenaBlocks, numInitBlocks)

	addr := fmt.Sprintf(":%d", cfg.Port)
	bound, err := srv.Listen(addr)
	if err != nil {
		log.Fatalf("memnode: %v", err)
	}
	log.Printf("memnode %d: serving arena of %d bytes (%d blocks, %d preloaded) on %s",
		cfg.ClientID, arenaBytes, cfg.ArenaBlocks, numInitBlocks, bound)

	bootAddr := fmt.Sprintf(":%d", cfg.Port+1)
	ln, err := boot.Listen(bootAddr, boot.Hello{Role: boot.RoleMemoryNode, ID: cfg.ClientID})
	if err != nil {
		log.Fatalf("memnode: %v", err)
	}
	log.Printf("memnode %d: bootstrap handshake on %s", cfg.ClientID, ln.Addr())

	for {
		conn, peer, err := ln.Accept()
		if err != nil {
			log.Printf("memnode %d: bootstrap accept: %v", cfg.ClientID, err)
			return
		}
		log.Printf("memnode %d: handshake with compute node %d", cfg.ClientID, peer.ID)
		conn.Close()
	}
}

// loadPartition reads this node's binary partition file from indexDir,
// named by node id per spec.md §6's "binary index file" convention. A
// missing partition file is tolerated (the node starts out entirely
// free): useful for a node that only ever serves allocation-side
// inserts in a test deployment.
func loadPartition(indexDir string, nodeID uint32) ([]byte, error) {
	path := filepath.Join(indexDir, fmt.Sprintf("node-%d.bin", nodeID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition file %s: %w", path, err)
	}
	return data, nil
}
