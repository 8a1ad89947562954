package net

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const inmemPipeSize = 128

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	acceptCh   chan Conn
	localAddr  string
	peers      map[string]*InmemTransport
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		acceptCh:   make(chan Conn, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		shutdownCh: make(chan struct{}),
	}
	return addr, trans
}

// Accept implements the Transport interface.
func (i *InmemTransport) Accept() <-chan Conn {
	return i.acceptCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Dial implements the Transport interface. The target must have been
// registered with Connect.
func (i *InmemTransport) Dial(ctx context.Context, target string) (Conn, error) {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	local, remote := newInmemPipe(target, i.localAddr)

	select {
	case peer.acceptCh <- remote:
		return local, nil
	case <-peer.shutdownCh:
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.closeOnce.Do(func() { close(i.shutdownCh) })
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}

// inmemConn is one end of a pair of buffered channels. Messages are encoded
// on the way, as they would be on a socket.
type inmemConn struct {
	remote string
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	once   *sync.Once
}

func newInmemPipe(remoteAddr, localAddr string) (*inmemConn, *inmemConn) {
	a := make(chan []byte, inmemPipeSize)
	b := make(chan []byte, inmemPipeSize)
	done := make(chan struct{})
	once := &sync.Once{}

	local := &inmemConn{remote: remoteAddr, in: a, out: b, done: done, once: once}
	remote := &inmemConn{remote: localAddr, in: b, out: a, done: done, once: once}

	return local, remote
}

// ReadMessage implements the Conn interface.
func (c *inmemConn) ReadMessage() (*Message, error) {
	select {
	case data := <-c.in:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// WriteMessage implements the Conn interface.
func (c *inmemConn) WriteMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

// RemoteAddr implements the Conn interface.
func (c *inmemConn) RemoteAddr() string {
	return c.remote
}

// Close implements the Conn interface. Closing either end closes the pipe.
func (c *inmemConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
