package net

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	bufSize = 64 * 1024
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

/*
NetworkTransport provides a network based transport that can be used to
exchange Messages with nodes on remote machines. It requires an underlying
stream layer to provide a stream abstraction, which can be simple TCP, TLS, etc.

Messages are framed as a stream of JSON values, one per message.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	acceptCh chan Conn

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. A write that does not complete within timeout fails; zero means no
// limit.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	trans := &NetworkTransport{
		acceptCh:   make(chan Conn),
		logger:     logger,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.shutdown = true
	}
	return nil
}

// Accept implements the Transport interface.
func (n *NetworkTransport) Accept() <-chan Conn {
	return n.acceptCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(ctx context.Context, target string) (Conn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(ctx, target)
	if err != nil {
		return nil, err
	}

	return newStreamConn(conn, n.timeout), nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		select {
		case n.acceptCh <- newStreamConn(conn, n.timeout):
		case <-n.shutdownCh:
			conn.Close()
			return
		}
	}
}

// streamConn frames Messages as consecutive JSON values on a net.Conn.
type streamConn struct {
	conn    net.Conn
	dec     *json.Decoder
	timeout time.Duration

	wl  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

func newStreamConn(conn net.Conn, timeout time.Duration) *streamConn {
	w := bufio.NewWriterSize(conn, bufSize)
	return &streamConn{
		conn:    conn,
		dec:     json.NewDecoder(bufio.NewReaderSize(conn, bufSize)),
		timeout: timeout,
		w:       w,
		enc:     json.NewEncoder(w),
	}
}

// ReadMessage implements the Conn interface.
func (c *streamConn) ReadMessage() (*Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// WriteMessage implements the Conn interface.
func (c *streamConn) WriteMessage(msg *Message) error {
	c.wl.Lock()
	defer c.wl.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	if err := c.enc.Encode(msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// RemoteAddr implements the Conn interface.
func (c *streamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close implements the Conn interface.
func (c *streamConn) Close() error {
	return c.conn.Close()
}
