package ledgerd

import (
	"context"
	"crypto/ecdsa"
	gonet "net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
	"github.com/zacharyzhang1208/COMP5567-Project/src/node"
	"github.com/zacharyzhang1208/COMP5567-Project/src/peers"
	"github.com/zacharyzhang1208/COMP5567-Project/src/service"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP service.
const shutdownTimeout = 5 * time.Second

// Ledgerd is a struct containing the key parts of a ledger node
type Ledgerd struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Network   *net.Network
	Ledger    *ledger.Ledger
	Store     ledger.Store
	Peers     peers.PeerStore
	Service   *service.Service
	logger    *logrus.Entry
}

// NewLedgerd is a factory method to produce a Ledgerd instance.
func NewLedgerd(c *config.Config) *Ledgerd {
	engine := &Ledgerd{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the engine: transport, store, ledger, key, network, node
// and HTTP service. Nothing is started yet. The transport is bound first
// because the files of the node are scoped by the port it listens on.
func (l *Ledgerd) Init() error {
	if err := l.initTransport(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initTransport")
		return err
	}

	if err := l.initRest(); err != nil {
		l.Transport.Close()
		if l.Store != nil {
			l.Store.Close()
		}
		return err
	}

	return nil
}

func (l *Ledgerd) initRest() error {
	if err := l.scopeDataDir(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() scopeDataDir")
		return err
	}

	if err := l.initStore(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initStore")
		return err
	}

	if err := l.initLedger(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initLedger")
		return err
	}

	if err := l.initKey(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initKey")
		return err
	}

	l.initNetwork()

	l.initNode()

	l.initService()

	return nil
}

// Run initializes and starts the node, serves the API, and blocks until ctx
// is cancelled or the process receives SIGINT or SIGTERM.
func (l *Ledgerd) Run(ctx context.Context) error {
	defer l.Shutdown()

	if l.Service != nil {
		go l.Service.Serve()
	}

	if err := l.Node.Initialize(ctx); err != nil {
		return err
	}

	if err := l.Node.Start(ctx); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"id":      l.Node.ID(),
		"address": l.Node.Address(),
		"peers":   l.Network.PeerCount(),
		"length":  l.Ledger.Len(),
	}).Info("Node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		l.logger.Debug("Context done")
	case sig := <-sigCh:
		l.logger.WithField("signal", sig).Info("Shutting down")
	}

	return nil
}

// Shutdown stops the service, then the node, which closes the network and the
// store.
func (l *Ledgerd) Shutdown() {
	if l.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := l.Service.Shutdown(ctx); err != nil {
			l.logger.WithError(err).Warn("Stopping service")
		}
		cancel()
	}

	if l.Node != nil {
		l.Node.Shutdown()
	}
}

// scopeDataDir moves the files of the node to a directory named after the
// port the transport is bound to.
func (l *Ledgerd) scopeDataDir() error {
	if l.Config.DataDir == "" {
		return nil
	}

	_, p, err := gonet.SplitHostPort(l.Transport.LocalAddr())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return err
	}

	l.Config.ScopeToPort(port)

	l.logger.WithFields(logrus.Fields{
		"node_dir": l.Config.NodeDir(),
		"db":       l.Config.DatabaseDir,
	}).Debug("Scoped data directory")

	return nil
}

func (l *Ledgerd) initStore() error {
	if !l.Config.Store {
		l.logger.Debug("Creating InmemStore")
		l.Store = ledger.NewInmemStore()
		return nil
	}

	dbPath := l.Config.DatabaseDir

	l.logger.WithField("path", dbPath).Debug("Creating BadgerStore")

	store, err := ledger.NewBadgerStore(dbPath, l.logger)
	if err != nil {
		return err
	}

	l.Store = store

	return nil
}

func (l *Ledgerd) initLedger() error {
	lg, err := ledger.NewLedger(l.Store, ledger.DefaultGenesisConfig(), l.logger)
	if err != nil {
		return err
	}

	l.Ledger = lg

	return nil
}

// initTransport binds the configured listen address. If it is busy, the first
// free port of the discovery range on the same host is used instead.
func (l *Ledgerd) initTransport() error {
	bind := l.Config.BindAddr

	trans, err := l.newTransport(bind)
	if err == nil {
		l.Transport = trans
		return nil
	}

	host, _, serr := gonet.SplitHostPort(bind)
	if serr != nil || l.Config.PortRangeStart <= 0 {
		return err
	}

	port, perr := net.FindAvailablePort(host, l.Config.PortRangeStart, l.Config.PortRangeEnd)
	if perr != nil {
		return errors.Wrapf(err, "%v", perr)
	}

	fallback := gonet.JoinHostPort(host, strconv.Itoa(port))

	l.logger.WithFields(logrus.Fields{
		"listen":   bind,
		"fallback": fallback,
		"error":    err,
	}).Warn("Listen address unavailable")

	trans, err = l.newTransport(fallback)
	if err != nil {
		return err
	}

	l.Config.BindAddr = fallback
	l.Transport = trans

	return nil
}

func (l *Ledgerd) newTransport(bind string) (net.Transport, error) {
	switch l.Config.Transport {
	case config.TCPTransport:
		trans, err := net.NewTCPTransport(bind, l.Config.AdvertiseAddr, l.Config.DialTimeout, l.logger)
		if err != nil {
			return nil, err
		}
		return trans, nil
	case config.WebsocketTransport, "":
		trans, err := net.NewWebsocketTransport(bind, l.Config.AdvertiseAddr, l.Config.DialTimeout, l.logger)
		if err != nil {
			return nil, err
		}
		return trans, nil
	default:
		return nil, errors.Errorf("unknown transport %q", l.Config.Transport)
	}
}

// initKey loads the validator key. A node configured with user credentials
// uses the key derived from them. Otherwise the key of the node is read, then
// the key shared by the data directory, and a new node key is created when
// there is neither.
func (l *Ledgerd) initKey() error {
	if l.Config.Key != nil {
		return nil
	}

	if l.Config.UserID != "" && l.Config.Password != "" {
		key, err := keys.GenerateKeyPair(l.Config.UserID, l.Config.Password)
		if err != nil {
			return err
		}
		l.logger.WithField("user", l.Config.UserID).Debug("Using key derived from credentials")
		l.Config.Key = key
		return nil
	}

	for _, path := range []string{l.Config.NodeKeyfile(), l.Config.Keyfile()} {
		key, err := keys.NewSimpleKeyfile(path).ReadKey()
		if err == nil {
			l.logger.WithField("path", path).Debug("Read private key")
			l.Config.Key = key
			return nil
		}
		l.logger.WithError(err).WithField("path", path).Debug("Cannot read private key from file")
	}

	key, err := Keygen(l.Config.NodeDir())
	if err != nil {
		return err
	}

	l.logger.WithField("public_key", keys.PublicKeyHex(&key.PublicKey)).Info("Created a new key")

	l.Config.Key = key

	return nil
}

func (l *Ledgerd) initNetwork() {
	// without a data directory, known peers are not persisted
	if l.Config.DataDir == "" {
		l.Peers = peers.NewStaticPeers(l.Config.Peers)
	} else {
		l.Peers = peers.NewJSONPeers(l.Config.NodeDir())
	}

	l.Network = net.NewNetwork(l.Config.Moniker,
		l.Transport,
		l.Peers,
		l.Config.DialTimeout,
		l.logger)
}

func (l *Ledgerd) initNode() {
	l.Node = node.NewNode(l.Config,
		l.Ledger,
		l.Network,
		l.Config.Key,
		l.logger)
}

func (l *Ledgerd) initService() {
	if l.Config.NoService {
		return
	}
	l.Service = service.NewService(l.Config.ServiceAddr, l.Node, l.logger)
}

// Keygen creates a random key and writes it to the key file of datadir. It
// fails if a key already lives there.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, errors.Errorf("another key already lives under %s", datadir)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// StorePath returns the path of the badger database, if one is in use.
func (l *Ledgerd) StorePath() string {
	if bs, ok := l.Store.(*ledger.BadgerStore); ok {
		return bs.StorePath()
	}
	return ""
}
