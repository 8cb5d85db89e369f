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

// Package config parses process configuration from command-line
// flags, in the flat flag.StringVar/flag.BoolVar style cmd/memnode
// and cmd/compute share with the rest of this module's entry points.
package config

import (
	"flag"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Role selects which process role a node runs as.
type Role string

const (
	RoleServer Role = "server" // passive memory node
	RoleClient Role = "client" // compute node
)

// Operation selects a read query's set algebra.
type Operation string

const (
	OpIntersection Operation = "intersection"
	OpUnion        Operation = "union"
)

// Config collects every recognized option. Defaults mirror spec.md
// §6's table; ClientID/Topology are the supplemented multi-node
// wiring this process needs beyond that table's single-node framing.
type Config struct {
	Role               Role
	Initiator          bool
	NumClients         int
	NumComputeThreads  int
	MaxSendQueueWR     int
	MaxRecvQueueWR     int
	BlockSize          int
	Operation          Operation
	IndexDir           string
	QueryFile          string
	Port               int
	DisableThreadPin   bool
	DevicePort         int
	ClientID           uint32
	TopologyFile       string
	ArenaBlocks        int
	FreeListPartitions int
}

// Topology lists every node's address, read from an optional YAML
// file (sigs.k8s.io/yaml, the same library the teacher uses for its
// own manifest files) since a flag can't reasonably hold an open-ended
// node list.
type Topology struct {
	MemoryNodes  []string `json:"memoryNodes"`
	ComputeNodes []string `json:"computeNodes"`
}

// Parse populates a Config from args (pass os.Args[1:] in main),
// applying spec.md §6's defaults for anything not given.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	c := &Config{}

	var role string
	fs.StringVar(&role, "role", "", "server (memory node) | client (compute node)")
	fs.BoolVar(&c.Initiator, "initiator", false, "this client distributes queries to peers")
	fs.IntVar(&c.NumClients, "num_clients", 1, "expected client count at server")
	fs.IntVar(&c.NumComputeThreads, "num_compute_threads", 1, "worker threads per client")
	fs.IntVar(&c.MaxSendQueueWR, "max_send_queue_wr", 1024, "transport post throttle")
	fs.IntVar(&c.MaxRecvQueueWR, "max_recv_queue_wr", 1024, "receive throttle")
	fs.IntVar(&c.BlockSize, "block_size", 4096, "bytes per block, >= 128, power of two")
	var op string
	fs.StringVar(&op, "operation", string(OpIntersection), "intersection | union (read queries)")
	fs.StringVar(&c.IndexDir, "index_dir", "", "directory of meta + binary partition files")
	fs.StringVar(&c.QueryFile, "query_file", "", "path to query input")
	fs.IntVar(&c.Port, "port", 7000, "bootstrap TCP port")
	fs.BoolVar(&c.DisableThreadPin, "disable_thread_pinning", false, "skip core affinity")
	fs.IntVar(&c.DevicePort, "device_port", 1, "fabric device port")
	var clientID uint
	fs.UintVar(&clientID, "client_id", 0, "this client's index among num_clients")
	fs.StringVar(&c.TopologyFile, "topology", "", "optional YAML file listing memory/compute node addresses")
	fs.IntVar(&c.ArenaBlocks, "arena_blocks", 1024, "total block slots per memory node, including free blocks")
	fs.IntVar(&c.FreeListPartitions, "freelist_partitions", 8, "free-list head partitions per memory node")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c.Role = Role(role)
	c.Operation = Operation(op)
	c.ClientID = uint32(clientID)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Role {
	case RoleServer, RoleClient:
	default:
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleServer, RoleClient, c.Role)
	}
	if c.Role == RoleClient {
		switch c.Operation {
		case OpIntersection, OpUnion:
		default:
			return fmt.Errorf("config: operation must be %q or %q, got %q", OpIntersection, OpUnion, c.Operation)
		}
	}
	if c.BlockSize < 128 {
		return fmt.Errorf("config: block_size %d is below the minimum 128", c.BlockSize)
	}
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("config: block_size %d is not a power of two", c.BlockSize)
	}
	if c.NumComputeThreads < 1 {
		return fmt.Errorf("config: num_compute_threads must be >= 1, got %d", c.NumComputeThreads)
	}
	if c.Role == RoleServer {
		if c.ArenaBlocks < 2 {
			return fmt.Errorf("config: arena_blocks must be >= 2 (index 0 is the reserved sentinel), got %d", c.ArenaBlocks)
		}
		if c.FreeListPartitions < 1 {
			return fmt.Errorf("config: freelist_partitions must be >= 1, got %d", c.FreeListPartitions)
		}
	}
	return nil
}

// LoadTopology reads and parses the optional topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read topology %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse topology %s: %w", path, err)
	}
	return &t, nil
}
