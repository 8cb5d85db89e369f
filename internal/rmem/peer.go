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

package rmem

import (
	"fmt"
	"io"
	"net"
)

// PeerListener accepts SEND connections from other compute nodes and
// queues each payload for Recv. This is the two-sided half of the
// fabric: unlike Server's one-sided READ/WRITE/CAS, a SEND has no
// synchronous reply, so the receiving side just buffers payloads in
// arrival order until its owner calls Recv.
type PeerListener struct {
	ln    net.Listener
	inbox chan []byte
}

// NewPeerListener allocates a PeerListener buffering up to capacity
// unconsumed payloads before a sender's Send blocks on a full inbox.
func NewPeerListener(capacity int) *PeerListener {
	return &PeerListener{inbox: make(chan []byte, capacity)}
}

// Listen starts accepting peer connections on addr.
func (p *PeerListener) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("rmem: peer listen %s: %w", addr, err)
	}
	p.ln = ln
	go p.acceptLoop()
	return ln.Addr().String(), nil
}

// Close stops accepting new peer connections.
func (p *PeerListener) Close() error {
	if p.ln == nil {
		return nil
	}
	return p.ln.Close()
}

func (p *PeerListener) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.serve(conn)
	}
}

func (p *PeerListener) serve(conn net.Conn) {
	defer conn.Close()
	for {
		h, err := readRequestHeader(conn)
		if err != nil {
			return
		}
		if h.Opcode != OpSend {
			return
		}
		buf := make([]byte, h.Length)
		if h.Length > 0 {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
		}
		p.inbox <- buf
	}
}

// Recv blocks until a peer's next SEND payload is available.
func (p *PeerListener) Recv() []byte {
	return <-p.inbox
}

// PeerConn is a client handle for SENDing payloads to a PeerListener.
type PeerConn struct {
	conn net.Conn
	wrID uint64
}

// DialPeer connects to a PeerListener at addr.
func DialPeer(addr string) (*PeerConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rmem: dial peer %s: %w", addr, err)
	}
	return &PeerConn{conn: conn}, nil
}

// Close closes the underlying connection.
func (p *PeerConn) Close() error {
	return p.conn.Close()
}

// Send transmits payload as a two-sided SEND frame. It is
// fire-and-forget over the reliable, in-order TCP stream: no
// completion is generated on this side, matching the spec's
// description of query distribution as a one-way hand-off before
// dispatch.
func (p *PeerConn) Send(payload []byte) error {
	p.wrID++
	h := requestHeader{Opcode: OpSend, WRID: p.wrID, Length: uint32(len(payload))}
	if _, err := p.conn.Write(h.marshal()); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := p.conn.Write(payload)
	return err
}
