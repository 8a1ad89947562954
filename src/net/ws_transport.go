package net

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsHandshakeTimeout = 5 * time.Second

// MaxMessageSize bounds the size of a message read from a websocket peer.
const MaxMessageSize = 32 << 20

// WebsocketTransport carries Messages as JSON text frames over websocket
// connections. It serves the websocket endpoint on the root path of an HTTP
// server bound to bindAddr.
type WebsocketTransport struct {
	logger *logrus.Entry

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer
	advertise  string

	// timeout bounds each write; readLimit bounds each read.
	timeout   time.Duration
	readLimit int64

	acceptCh chan Conn

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewWebsocketTransport binds to bindAddr. The advertise address, if empty,
// defaults to the bound address, which must then be reachable by other nodes.
// A write that does not complete within timeout fails; zero means no limit.
func NewWebsocketTransport(bindAddr string,
	advertise string,
	timeout time.Duration,
	logger *logrus.Entry,
) (*WebsocketTransport, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	if advertise == "" {
		addr, ok := list.Addr().(*net.TCPAddr)
		if !ok {
			list.Close()
			return nil, errNotTCP
		}
		if addr.IP.IsUnspecified() {
			list.Close()
			return nil, errNotAdvertisable
		}
		advertise = addr.String()
	}

	trans := &WebsocketTransport{
		logger:   logger,
		listener: list,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufSize,
			WriteBufferSize: bufSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
			ReadBufferSize:   bufSize,
			WriteBufferSize:  bufSize,
		},
		advertise:  advertise,
		timeout:    timeout,
		readLimit:  MaxMessageSize,
		acceptCh:   make(chan Conn),
		shutdownCh: make(chan struct{}),
	}

	trans.httpServer = &http.Server{
		Handler: http.HandlerFunc(trans.serveWS),
	}

	return trans, nil
}

func (w *WebsocketTransport) serveWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.WithError(err).Debug("Upgrading websocket connection")
		return
	}

	w.logger.WithFields(logrus.Fields{
		"node": w.listener.Addr().String(),
		"from": conn.RemoteAddr().String(),
	}).Debug("accepted connection")

	select {
	case w.acceptCh <- w.newConn(conn):
	case <-w.shutdownCh:
		conn.Close()
	}
}

// Listen implements the Transport interface.
func (w *WebsocketTransport) Listen() {
	err := w.httpServer.Serve(w.listener)
	if err != nil && err != http.ErrServerClosed && !w.IsShutdown() {
		w.logger.WithError(err).Error("Serving websocket endpoint")
	}
}

// Accept implements the Transport interface.
func (w *WebsocketTransport) Accept() <-chan Conn {
	return w.acceptCh
}

// Dial implements the Transport interface.
func (w *WebsocketTransport) Dial(ctx context.Context, address string) (Conn, error) {
	if w.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, _, err := w.dialer.DialContext(ctx, "ws://"+address+"/", nil)
	if err != nil {
		return nil, err
	}

	return w.newConn(conn), nil
}

// LocalAddr implements the Transport interface.
func (w *WebsocketTransport) LocalAddr() string {
	return w.listener.Addr().String()
}

// AdvertiseAddr implements the Transport interface.
func (w *WebsocketTransport) AdvertiseAddr() string {
	return w.advertise
}

// IsShutdown is used to check if the transport is shutdown.
func (w *WebsocketTransport) IsShutdown() bool {
	select {
	case <-w.shutdownCh:
		return true
	default:
		return false
	}
}

// Close implements the Transport interface. Connections that were already
// handed out are owned by the caller and stay open.
func (w *WebsocketTransport) Close() error {
	w.shutdownLock.Lock()
	defer w.shutdownLock.Unlock()

	if w.shutdown {
		return nil
	}

	close(w.shutdownCh)
	w.shutdown = true

	// Upgraded connections are hijacked, so Close does not touch them.
	return w.httpServer.Close()
}

// wsConn implements Conn over a gorilla websocket connection, which supports
// one concurrent writer only.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	wl      sync.Mutex
}

func (w *WebsocketTransport) newConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(w.readLimit)
	return &wsConn{conn: conn, timeout: w.timeout}
}

// ReadMessage implements the Conn interface.
func (c *wsConn) ReadMessage() (*Message, error) {
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// WriteMessage implements the Conn interface.
func (c *wsConn) WriteMessage(msg *Message) error {
	c.wl.Lock()
	defer c.wl.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(msg)
}

// RemoteAddr implements the Conn interface.
func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close implements the Conn interface.
func (c *wsConn) Close() error {
	return c.conn.Close()
}
