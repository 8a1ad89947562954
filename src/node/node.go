package node

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
	"github.com/zacharyzhang1208/COMP5567-Project/src/node/state"
)

// command is a closure executed by the dispatch loop. done is closed once f
// has returned.
type command struct {
	f    func()
	done chan struct{}
}

// Node ties a Ledger to a Network. All ledger mutations, whether they come
// from peers, from synchronization, or from the local API, are executed by a
// single dispatch loop.
type Node struct {
	state.Manager

	conf   *config.Config
	logger *logrus.Entry

	ledger  *ledger.Ledger
	network *net.Network

	// key signs the blocks produced by CreateSignedBlock. It may be nil.
	key *ecdsa.PrivateKey

	netCh   <-chan net.RPC
	localCh chan command

	looping      int32
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	// start is the UnixNano time at which the node entered Running. It is
	// read from API goroutines.
	start int64
}

// NewNode is a factory method that returns a Node instance in the Created
// state.
func NewNode(conf *config.Config,
	l *ledger.Ledger,
	network *net.Network,
	key *ecdsa.PrivateKey,
	logger *logrus.Entry,
) *Node {
	if logger == nil {
		logger = conf.Logger()
	}

	return &Node{
		conf:       conf,
		logger:     logger.WithField("this_id", network.ID()),
		ledger:     l,
		network:    network,
		key:        key,
		netCh:      network.Consumer(),
		localCh:    make(chan command),
		shutdownCh: make(chan struct{}),
	}
}

// Initialize brings the network up, discovers peers, loads the ledger and
// synchronizes it with the peers. Any failure moves the node to the Error
// state.
func (n *Node) Initialize(ctx context.Context) error {
	if !n.Transition(state.Created, state.Initializing) {
		return errors.Errorf("cannot initialize node in state %s", n.GetState())
	}

	if err := n.initialize(ctx); err != nil {
		n.logger.WithError(err).Error("Initialization failed")
		n.SetState(state.Error)
		return err
	}

	n.SetState(state.Initialized)
	n.logger.Debug("Initialized")

	return nil
}

func (n *Node) initialize(ctx context.Context) error {
	n.network.Listen()

	found := n.network.Discover(ctx, n.candidates())
	n.logger.WithField("peers", found).Debug("Discovery")

	if err := n.ledger.Load(); err != nil {
		return err
	}

	n.runLoop()

	n.ledger.BeginSync()
	n.Sync(ctx)
	n.ledger.MarkReady()

	return nil
}

// Start performs the first action of the configured role. A node configured
// with a user and a role registers that user on the ledger, unless it is
// already registered.
func (n *Node) Start(ctx context.Context) error {
	if !n.Transition(state.Initialized, state.Starting) {
		return errors.Errorf("cannot start node in state %s", n.GetState())
	}

	if err := n.registerUser(); err != nil {
		n.logger.WithError(err).Error("Start failed")
		n.SetState(state.Error)
		return err
	}

	atomic.StoreInt64(&n.start, time.Now().UnixNano())
	n.SetState(state.Running)
	n.logger.Info("Running")

	return nil
}

// Shutdown stops the dispatch loop, closes the network and the store. It is
// safe to call more than once.
func (n *Node) Shutdown() {
	if n.GetState() == state.Shutdown {
		return
	}

	n.logger.Debug("Shutdown")
	n.SetState(state.Shutdown)

	n.shutdownOnce.Do(func() { close(n.shutdownCh) })

	// the network must be closed before waiting, because the loop may be
	// blocked writing to a peer
	if err := n.network.Close(); err != nil {
		n.logger.WithError(err).Warn("Closing network")
	}

	n.WaitRoutines()

	if err := n.ledger.Close(); err != nil {
		n.logger.WithError(err).Warn("Closing store")
	}
}

// candidates are the addresses probed during discovery: the configured
// peers, then the port range on every discovery host.
func (n *Node) candidates() []string {
	res := append([]string{}, n.conf.Peers...)
	if n.conf.PortRangeStart > 0 && n.conf.PortRangeEnd >= n.conf.PortRangeStart {
		res = append(res, net.PortRangeAddrs(n.conf.DiscoveryHosts,
			n.conf.PortRangeStart,
			n.conf.PortRangeEnd)...)
	}
	return res
}

func (n *Node) registerUser() error {
	if !n.conf.HasRole() || n.conf.UserID == "" {
		return nil
	}

	if n.ledger.IsRegistered(n.conf.UserID) {
		n.logger.WithField("user", n.conf.UserID).Debug("User already registered")
		return nil
	}

	key, err := keys.GenerateKeyPair(n.conf.UserID, n.conf.Password)
	if err != nil {
		return err
	}

	tx, err := ledger.NewTransaction(&ledger.UserRegistration{
		UserID:    n.conf.UserID,
		UserType:  n.conf.UserType(),
		PublicKey: keys.PublicKeyHex(&key.PublicKey),
	}, 0)
	if err != nil {
		return err
	}

	if err := tx.Sign(key); err != nil {
		return err
	}

	hash, err := n.submit(tx)
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"user": n.conf.UserID,
		"role": n.conf.UserType(),
		"hash": hash,
	}).Info("Registered user")

	return nil
}

// runLoop starts the dispatch loop once.
func (n *Node) runLoop() {
	if !atomic.CompareAndSwapInt32(&n.looping, 0, 1) {
		return
	}
	if !n.GoFunc(n.loop) {
		atomic.StoreInt32(&n.looping, 0)
	}
}

func (n *Node) loop() {
	for {
		select {
		case rpc, ok := <-n.netCh:
			if !ok {
				return
			}
			n.processRPC(rpc)
		case cmd := <-n.localCh:
			n.runCommand(cmd)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) runCommand(cmd command) {
	defer close(cmd.done)
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithField("panic", r).Error("Recovered from panic in command")
		}
	}()
	cmd.f()
}

// exec runs f on the dispatch loop and waits for it to return.
func (n *Node) exec(f func()) error {
	if atomic.LoadInt32(&n.looping) == 0 {
		return cm.NewLedgerErr(cm.NotReady, "node is not initialized")
	}

	cmd := command{f: f, done: make(chan struct{})}

	select {
	case n.localCh <- cmd:
	case <-n.shutdownCh:
		return cm.NewLedgerErr(cm.NotReady, "node is shut down")
	}

	<-cmd.done

	return nil
}
