package net

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/peers"
)

const consumerBufferSize = 64

var (
	// ErrSelfConnection is returned when a dial ends up on our own node.
	ErrSelfConnection = errors.New("connection to self")
)

type waiterKey struct {
	peer *PeerConn
	t    MessageType
}

// Network is the overlay of connections between nodes. It runs the handshake,
// keeps the book of known addresses, filters our own messages out, and hands
// every other inbound message to the consumer.
//
// Live connections and known addresses are distinct: an address stays in the
// book after its connection is gone.
type Network struct {
	id          string
	trans       Transport
	book        *peers.Book
	store       peers.PeerStore
	dialTimeout time.Duration

	connLock sync.RWMutex
	conns    map[*PeerConn]struct{}

	waitLock sync.Mutex
	waiters  map[waiterKey][]chan *Message

	consumeCh chan RPC

	ctx          context.Context
	cancel       context.CancelFunc
	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup

	logger *logrus.Entry
}

// NewNetwork creates the overlay over trans. id identifies this node in
// handshakes and message senders; a random one is generated when empty. The
// book starts with the peers found in store, which may be nil.
func NewNetwork(id string,
	trans Transport,
	store peers.PeerStore,
	dialTimeout time.Duration,
	logger *logrus.Entry) *Network {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if id == "" {
		id = generateUUID()
	}

	book := peers.NewBook()
	if store != nil {
		stored, err := store.Peers()
		if err != nil {
			logger.WithError(err).Debug("No stored peers")
		} else if stored != nil {
			book = stored
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Network{
		id:          id,
		trans:       trans,
		book:        book,
		store:       store,
		dialTimeout: dialTimeout,
		conns:       make(map[*PeerConn]struct{}),
		waiters:     make(map[waiterKey][]chan *Message),
		consumeCh:   make(chan RPC, consumerBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		shutdownCh:  make(chan struct{}),
		logger:      logger.WithField("this_id", id),
	}
}

// ID returns the identity of this node.
func (n *Network) ID() string {
	return n.id
}

// Address returns the address other nodes can reach us at.
func (n *Network) Address() string {
	return peers.NormalizeAddr(n.trans.AdvertiseAddr())
}

// Consumer returns the channel of inbound messages that are neither part of
// the handshake nor the answer to a pending Request.
func (n *Network) Consumer() <-chan RPC {
	return n.consumeCh
}

// Book returns the known addresses.
func (n *Network) Book() *peers.Book {
	return n.book
}

// KnownPeers returns the known peers, without ourselves.
func (n *Network) KnownPeers() []*peers.Peer {
	_, others := peers.ExcludePeer(n.book.ToPeerSlice(), n.Address())

	res := []*peers.Peer{}
	for _, p := range others {
		if p.ID == n.id || n.isSelf(p.NetAddr) {
			continue
		}
		res = append(res, p)
	}
	return res
}

// Peers returns the live connections.
func (n *Network) Peers() []*PeerConn {
	n.connLock.RLock()
	defer n.connLock.RUnlock()

	res := make([]*PeerConn, 0, len(n.conns))
	for pc := range n.conns {
		res = append(res, pc)
	}
	return res
}

// PeerCount returns the number of live connections.
func (n *Network) PeerCount() int {
	n.connLock.RLock()
	defer n.connLock.RUnlock()
	return len(n.conns)
}

// Listen starts accepting inbound connections.
func (n *Network) Listen() {
	n.goFunc(n.trans.Listen)
	n.goFunc(n.acceptLoop)
}

// Connect dials address, sends our handshake and waits, at most DialTimeout,
// for the answer. A connection that does not answer the handshake is kept.
// If a live connection to address already exists, it is returned.
func (n *Network) Connect(ctx context.Context, address string) (*PeerConn, error) {
	address = peers.NormalizeAddr(address)
	if address == "" {
		return nil, errors.New("empty address")
	}
	if n.isSelf(address) {
		return nil, ErrSelfConnection
	}
	if pc := n.connectedTo(address); pc != nil {
		return pc, nil
	}

	dctx, cancel := context.WithTimeout(ctx, n.dialTimeout)
	defer cancel()

	conn, err := n.trans.Dial(dctx, address)
	if err != nil {
		return nil, err
	}

	pc := newPeerConn(conn, true, address)
	if !n.addConn(pc) {
		return nil, ErrTransportShutdown
	}

	n.book.AddPeer(peers.NewPeer("", address))

	_, err = n.Request(dctx, pc, Handshake, HandshakeData{
		ID:      n.id,
		Address: n.Address(),
	})
	switch {
	case err == nil:
	case errors.Cause(err) == ErrSelfConnection:
		return nil, ErrSelfConnection
	case cm.IsLedger(err, cm.NetworkTimeout):
		n.logger.WithField("peer", address).Debug("No handshake response")
	default:
		return nil, err
	}

	// the handshake response may have revealed a connection to ourselves
	select {
	case <-pc.closedCh:
		if pc.ID() == n.id {
			return nil, ErrSelfConnection
		}
		return nil, errors.Errorf("connection to %s closed during handshake", address)
	default:
	}

	n.logger.WithField("peer", pc).Debug("Connected")

	return pc, nil
}

// Send writes a message of type t to one peer. A failed write drops the
// connection.
func (n *Network) Send(pc *PeerConn, t MessageType, data interface{}) error {
	msg, err := n.newMessage(t, data)
	if err != nil {
		return err
	}
	return n.write(pc, msg)
}

// Broadcast sends a message of type t to every live connection and returns
// how many writes succeeded. Failed connections are dropped.
func (n *Network) Broadcast(t MessageType, data interface{}) (int, error) {
	msg, err := n.newMessage(t, data)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, pc := range n.Peers() {
		if err := n.write(pc, msg); err != nil {
			continue
		}
		sent++
	}

	n.logger.WithFields(logrus.Fields{
		"type":  t,
		"peers": sent,
	}).Debug("Broadcast")

	return sent, nil
}

// Request sends a request of type t to pc and waits for the matching answer.
// When ctx expires first, a NetworkTimeout is returned; the peer is not told.
func (n *Network) Request(ctx context.Context, pc *PeerConn, t MessageType, data interface{}) (*Message, error) {
	respType, ok := ResponseType(t)
	if !ok {
		return nil, errors.Errorf("%s is not a request", t)
	}

	ch := n.addWaiter(pc, respType)
	defer n.removeWaiter(pc, respType, ch)

	if err := n.Send(pc, t, data); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return nil, cm.WrapLedgerErr(cm.NetworkTimeout, ctx.Err(),
			fmt.Sprintf("waiting for %s from %s", respType, pc))
	case <-pc.closedCh:
		if pc.ID() == n.id {
			return nil, ErrSelfConnection
		}
		return nil, errors.Errorf("connection to %s closed", pc)
	case <-n.shutdownCh:
		return nil, ErrTransportShutdown
	}
}

// IsShutdown ...
func (n *Network) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Close drops every connection, closes the transport, and writes the known
// peers to the peer store.
func (n *Network) Close() error {
	n.shutdownLock.Lock()
	if n.shutdown {
		n.shutdownLock.Unlock()
		return nil
	}
	n.shutdown = true
	close(n.shutdownCh)
	n.cancel()
	n.shutdownLock.Unlock()

	err := n.trans.Close()

	for _, pc := range n.Peers() {
		n.removeConn(pc)
	}

	n.wg.Wait()

	if n.store != nil {
		if err := n.store.SetPeers(n.KnownPeers()); err != nil {
			n.logger.WithError(err).Error("Saving known peers")
		}
	}

	return err
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// connections

// goFunc runs f in a goroutine that Close waits for, unless we are shutting
// down.
func (n *Network) goFunc(f func()) bool {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return false
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f()
	}()

	return true
}

func (n *Network) acceptLoop() {
	for {
		select {
		case conn := <-n.trans.Accept():
			pc := newPeerConn(conn, false, "")
			if !n.addConn(pc) {
				conn.Close()
				return
			}
			n.logger.WithField("from", conn.RemoteAddr()).Debug("Accepted connection")
		case <-n.shutdownCh:
			return
		}
	}
}

// addConn registers pc and starts its reader.
func (n *Network) addConn(pc *PeerConn) bool {
	n.connLock.Lock()
	n.conns[pc] = struct{}{}
	n.connLock.Unlock()

	if !n.goFunc(func() { n.readLoop(pc) }) {
		n.removeConn(pc)
		return false
	}

	return true
}

func (n *Network) removeConn(pc *PeerConn) {
	n.connLock.Lock()
	_, ok := n.conns[pc]
	delete(n.conns, pc)
	n.connLock.Unlock()

	pc.close()

	if ok && !n.IsShutdown() {
		n.logger.WithField("peer", pc).Debug("Connection closed")
	}
}

func (n *Network) connectedTo(address string) *PeerConn {
	n.connLock.RLock()
	defer n.connLock.RUnlock()

	for pc := range n.conns {
		if pc.Addr() == address {
			return pc
		}
	}
	return nil
}

func (n *Network) isSelf(address string) bool {
	address = peers.NormalizeAddr(address)
	return address == n.Address() || address == peers.NormalizeAddr(n.trans.LocalAddr())
}

func (n *Network) readLoop(pc *PeerConn) {
	defer n.removeConn(pc)

	for {
		msg, err := pc.conn.ReadMessage()
		if err != nil {
			return
		}
		n.handleMessage(pc, msg)
	}
}

func (n *Network) handleMessage(pc *PeerConn, msg *Message) {
	if msg.Sender != nil && msg.Sender.ID == n.id && msg.Type != Handshake && msg.Type != HandshakeResponse {
		n.logger.WithField("type", msg.Type).Debug("Ignoring message from self")
		return
	}

	n.logger.WithFields(logrus.Fields{
		"peer": pc,
		"type": msg.Type,
	}).Debug("Received message")

	switch msg.Type {
	case Handshake:
		n.handleHandshake(pc, msg)
		return
	case HandshakeResponse:
		n.handleHandshakeResponse(pc, msg)
	}

	if n.deliver(pc, msg) || msg.Type == HandshakeResponse {
		return
	}

	select {
	case n.consumeCh <- RPC{Message: msg, From: pc, network: n}:
	case <-n.shutdownCh:
	}
}

func (n *Network) handleHandshake(pc *PeerConn, msg *Message) {
	var data HandshakeData
	if err := msg.Decode(&data); err != nil {
		n.logger.WithError(err).Warn("Bad handshake")
		return
	}

	if data.ID == n.id {
		n.logger.Debug("Dropping connection to self")
		pc.setIdentity(data.ID, "")
		n.removeConn(pc)
		return
	}

	address := peers.NormalizeAddr(data.Address)
	pc.setIdentity(data.ID, address)

	if address != "" && !n.isSelf(address) {
		n.book.AddPeer(peers.NewPeer(data.ID, address))
	}

	n.logger.WithField("peer", pc).Info("Received handshake")

	err := n.Send(pc, HandshakeResponse, HandshakeResponseData{
		ID:         n.id,
		Address:    n.Address(),
		KnownPeers: n.KnownPeers(),
	})
	if err != nil {
		n.logger.WithError(err).Debug("Sending handshake response")
	}
}

func (n *Network) handleHandshakeResponse(pc *PeerConn, msg *Message) {
	var data HandshakeResponseData
	if err := msg.Decode(&data); err != nil {
		n.logger.WithError(err).Warn("Bad handshake response")
		return
	}

	if data.ID == n.id {
		// the address we dialed is one of ours
		n.book.RemovePeer(pc.Addr())
		pc.setIdentity(data.ID, "")
		n.removeConn(pc)
		return
	}

	pc.setIdentity(data.ID, peers.NormalizeAddr(data.Address))
	if addr := pc.Addr(); addr != "" {
		n.book.AddPeer(peers.NewPeer(data.ID, addr))
	}

	candidates := []*peers.Peer{}
	for _, p := range data.KnownPeers {
		if p == nil || p.ID == n.id || n.isSelf(p.NetAddr) {
			continue
		}
		candidates = append(candidates, peers.NewPeer(p.ID, p.NetAddr))
	}

	// reach the rest of the network through the addresses we just learned
	for _, p := range n.book.AddPeers(candidates) {
		addr := p.NetAddr
		if n.connectedTo(addr) != nil {
			continue
		}
		n.goFunc(func() {
			if _, err := n.Connect(n.ctx, addr); err != nil {
				n.logger.WithError(err).WithField("peer", addr).Debug("Connecting to learned peer")
			}
		})
	}
}

func (n *Network) newMessage(t MessageType, data interface{}) (*Message, error) {
	msg, err := NewMessage(t, data)
	if err != nil {
		return nil, err
	}
	msg.Sender = &Sender{
		ID:      n.id,
		Address: n.Address(),
	}
	return msg, nil
}

func (n *Network) write(pc *PeerConn, msg *Message) error {
	if err := pc.conn.WriteMessage(msg); err != nil {
		n.logger.WithError(err).WithField("peer", pc).Debug("Writing message")
		n.removeConn(pc)
		return errors.Wrapf(err, "sending %s to %s", msg.Type, pc)
	}
	return nil
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// request waiters

func (n *Network) addWaiter(pc *PeerConn, t MessageType) chan *Message {
	ch := make(chan *Message, 1)
	key := waiterKey{pc, t}

	n.waitLock.Lock()
	n.waiters[key] = append(n.waiters[key], ch)
	n.waitLock.Unlock()

	return ch
}

func (n *Network) removeWaiter(pc *PeerConn, t MessageType, ch chan *Message) {
	key := waiterKey{pc, t}

	n.waitLock.Lock()
	defer n.waitLock.Unlock()

	chans := n.waiters[key]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(n.waiters, key)
	} else {
		n.waiters[key] = chans
	}
}

// deliver hands msg to the Requests waiting for it, and reports whether there
// were any.
func (n *Network) deliver(pc *PeerConn, msg *Message) bool {
	key := waiterKey{pc, msg.Type}

	n.waitLock.Lock()
	chans := n.waiters[key]
	delete(n.waiters, key)
	n.waitLock.Unlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
		}
	}

	return len(chans) > 0
}
