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

package dispatch

import (
	"fmt"

	"github.com/DatabaseGroup/rdma-inverted-index/internal/rmem"
)

// RouteNode picks which compute node owns queryID, round-robin across
// numComputeNodes. The initiator (whichever node parsed the query
// file) uses this to decide whether to execute locally or hand the
// query off over a PeerConn SEND.
func RouteNode(queryID, numComputeNodes uint32) uint32 {
	if numComputeNodes == 0 {
		return 0
	}
	return queryID % numComputeNodes
}

// Initiator fans query indices out to their owning compute node,
// executing locally when RouteNode picks this node and SENDing to a
// peer otherwise. Peers is indexed by compute node id; peers[selfID]
// is expected to be nil since self-routed queries never go over the
// wire.
type Initiator struct {
	selfID          uint32
	numComputeNodes uint32
	peers           []*rmem.PeerConn
	local           func(queryID uint32) error
}

// NewInitiator builds an Initiator for a node at selfID among
// numComputeNodes total nodes, with a dialed PeerConn per remote node
// (peers[selfID] is ignored) and a callback for locally-owned queries.
func NewInitiator(selfID, numComputeNodes uint32, peers []*rmem.PeerConn, local func(queryID uint32) error) (*Initiator, error) {
	if int(numComputeNodes) != len(peers) {
		return nil, fmt.Errorf("dispatch: peers length %d != numComputeNodes %d", len(peers), numComputeNodes)
	}
	return &Initiator{selfID: selfID, numComputeNodes: numComputeNodes, peers: peers, local: local}, nil
}

// Dispatch routes queryID's raw encoded form to its owning node.
func (init *Initiator) Dispatch(queryID uint32, encoded []byte) error {
	owner := RouteNode(queryID, init.numComputeNodes)
	if owner == init.selfID {
		return init.local(queryID)
	}
	peer := init.peers[owner]
	if peer == nil {
		return fmt.Errorf("dispatch: no peer connection for node %d", owner)
	}
	return peer.Send(encoded)
}
