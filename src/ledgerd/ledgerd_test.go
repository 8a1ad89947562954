package ledgerd

import (
	"context"
	gonet "net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
	"github.com/zacharyzhang1208/COMP5567-Project/src/net"
	"github.com/zacharyzhang1208/COMP5567-Project/src/node/state"
)

const testDir = "test_data"

func initTestDir(t *testing.T) {
	os.RemoveAll(testDir)
	if err := os.Mkdir(testDir, os.ModeDir|0777); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func newTestConfig(t *testing.T) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(testDir)
	conf.Transport = config.TCPTransport
	conf.NoService = true
	conf.DiscoveryHosts = []string{"127.0.0.1"}

	port, err := net.FindAvailablePort("127.0.0.1", 17001, 17100)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	conf.BindAddr = gonet.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conf.PortRangeStart = port
	conf.PortRangeEnd = port

	return conf
}

func TestInitStore(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	conf := newTestConfig(t)
	conf.Store = true

	engine := NewLedgerd(conf)

	if err := engine.initStore(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer engine.Store.Close()

	if engine.StorePath() != filepath.Join(testDir, config.DefaultBadgerFile) {
		t.Fatalf("store path should be %s, not %s",
			filepath.Join(testDir, config.DefaultBadgerFile),
			engine.StorePath())
	}
}

func TestInitKey(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	conf := newTestConfig(t)
	engine := NewLedgerd(conf)

	if err := engine.initKey(); err != nil {
		t.Fatalf("err: %v", err)
	}

	// the key must have been written and is read back the second time
	stored, err := keys.NewSimpleKeyfile(conf.Keyfile()).ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if keys.PublicKeyHex(&stored.PublicKey) != keys.PublicKeyHex(&conf.Key.PublicKey) {
		t.Fatalf("stored key should be the engine key")
	}

	if _, err := Keygen(testDir); err == nil {
		t.Fatalf("Keygen should refuse to overwrite a key")
	}

	conf2 := newTestConfig(t)
	conf2.UserID = "t1"
	conf2.Password = "secret"
	engine2 := NewLedgerd(conf2)

	if err := engine2.initKey(); err != nil {
		t.Fatalf("err: %v", err)
	}

	derived, _ := keys.GenerateKeyPair("t1", "secret")
	if keys.PublicKeyHex(&conf2.Key.PublicKey) != keys.PublicKeyHex(&derived.PublicKey) {
		t.Fatalf("engine key should be derived from the credentials")
	}
}

func TestInitTransportFallback(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	conf := newTestConfig(t)

	busy, err := gonet.Listen("tcp", conf.BindAddr)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer busy.Close()

	port, err := net.FindAvailablePort("127.0.0.1", 17101, 17200)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	conf.PortRangeStart = port
	conf.PortRangeEnd = port

	engine := NewLedgerd(conf)
	if err := engine.initTransport(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer engine.Transport.Close()

	expected := gonet.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if engine.Transport.LocalAddr() != expected {
		t.Fatalf("transport should be bound to %s, not %s", expected, engine.Transport.LocalAddr())
	}
}

func TestRun(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	conf := newTestConfig(t)
	conf.Role = config.RoleTeacher
	conf.UserID = "t1"
	conf.Password = "secret"

	engine := NewLedgerd(conf)
	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- engine.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for engine.Node.GetState() != state.Running {
		if time.Now().After(deadline) {
			t.Fatalf("node should be running, is %s", engine.Node.GetState())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !engine.Ledger.IsRegistered("t1") {
		t.Fatalf("the teacher should be registered")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run should return after the context is cancelled")
	}

	if s := engine.Node.GetState(); s != state.Shutdown {
		t.Fatalf("state should be Shutdown, not %s", s)
	}
}

func TestEnginesShareDataDir(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	engines := []*Ledgerd{}
	defer func() {
		for _, e := range engines {
			e.Store.Close()
			e.Transport.Close()
		}
	}()

	for i := 0; i < 2; i++ {
		conf := newTestConfig(t)
		conf.Store = true

		engine := NewLedgerd(conf)
		if err := engine.Init(); err != nil {
			t.Fatalf("engine %d: err: %v", i, err)
		}
		engines = append(engines, engine)
	}

	a, b := engines[0], engines[1]

	for _, e := range engines {
		_, p, _ := gonet.SplitHostPort(e.Transport.LocalAddr())
		port, _ := strconv.Atoi(p)

		if e.StorePath() != config.DatabaseDirForPort(testDir, port) {
			t.Fatalf("store path should be %s, not %s", config.DatabaseDirForPort(testDir, port), e.StorePath())
		}
		if e.Config.NodeDir() != filepath.Join(testDir, config.NodeDirName(port)) {
			t.Fatalf("unexpected node dir %s", e.Config.NodeDir())
		}
		if _, err := os.Stat(e.Config.NodeKeyfile()); err != nil {
			t.Fatalf("node key should have been written: %v", err)
		}
	}

	if a.StorePath() == b.StorePath() {
		t.Fatalf("engines should not share a database")
	}
	if keys.PublicKeyHex(&a.Config.Key.PublicKey) == keys.PublicKeyHex(&b.Config.Key.PublicKey) {
		t.Fatalf("engines should not share a key")
	}
}

func TestInitReleasesTransportOnFailure(t *testing.T) {
	initTestDir(t)
	defer os.RemoveAll(testDir)

	conf := newTestConfig(t)
	conf.Store = true

	engine := NewLedgerd(conf)
	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer engine.Transport.Close()
	defer engine.Store.Close()

	// same port, same database: the store is locked
	conf2 := newTestConfig(t)
	conf2.Store = true
	conf2.BindAddr = "127.0.0.1:0"
	conf2.DatabaseDir = engine.StorePath()

	engine2 := NewLedgerd(conf2)
	if err := engine2.Init(); err == nil {
		t.Fatalf("opening a locked database should fail")
	}
	if !engine2.Transport.(*net.NetworkTransport).IsShutdown() {
		t.Fatalf("transport should be closed after a failed Init")
	}
}
