package net

import (
	"fmt"
	"sync"
)

// PeerConn is a live connection to another node. The identity of the remote
// node is only known once the handshake has gone through.
type PeerConn struct {
	conn     Conn
	outbound bool

	l    sync.RWMutex
	id   string
	addr string

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newPeerConn(conn Conn, outbound bool, addr string) *PeerConn {
	return &PeerConn{
		conn:     conn,
		outbound: outbound,
		addr:     addr,
		closedCh: make(chan struct{}),
	}
}

// ID returns the node ID announced by the peer, or "" before the handshake.
func (p *PeerConn) ID() string {
	p.l.RLock()
	defer p.l.RUnlock()
	return p.id
}

// Addr returns the address the peer can be reached at. For an inbound
// connection, it is empty until the peer announces it.
func (p *PeerConn) Addr() string {
	p.l.RLock()
	defer p.l.RUnlock()
	return p.addr
}

// Outbound reports whether we opened the connection.
func (p *PeerConn) Outbound() bool {
	return p.outbound
}

func (p *PeerConn) setIdentity(id, addr string) {
	p.l.Lock()
	defer p.l.Unlock()
	if id != "" {
		p.id = id
	}
	if addr != "" {
		p.addr = addr
	}
}

func (p *PeerConn) close() {
	p.closeOnce.Do(func() {
		close(p.closedCh)
		p.conn.Close()
	})
}

func (p *PeerConn) String() string {
	p.l.RLock()
	defer p.l.RUnlock()
	if p.addr != "" {
		return fmt.Sprintf("%s(%s)", p.id, p.addr)
	}
	return fmt.Sprintf("%s(%s)", p.id, p.conn.RemoteAddr())
}
