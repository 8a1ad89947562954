package peers

import (
	"strings"
)

// Peer is a node of the ledger network.
type Peer struct {
	ID      string `json:"id,omitempty"`
	NetAddr string `json:"address"`
}

// NewPeer ...
func NewPeer(id, netAddr string) *Peer {
	return &Peer{
		ID:      id,
		NetAddr: NormalizeAddr(netAddr),
	}
}

// NormalizeAddr strips the websocket scheme and trailing slashes so that the
// same endpoint always maps to the same key, whether it was configured as
// ws://host:port or host:port.
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "ws://")
	addr = strings.TrimPrefix(addr, "tcp://")
	return strings.TrimRight(addr, "/")
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, addr string) (int, []*Peer) {
	addr = NormalizeAddr(addr)
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != addr {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
