package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/zacharyzhang1208/COMP5567-Project/src/common"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultConfigName is the name, without extension, of the configuration
	// file read from the data directory.
	DefaultConfigName = "ledgerd"
)

// Transports.
const (
	WebsocketTransport = "ws"
	TCPTransport       = "tcp"
)

// Roles.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:6001"
	DefaultServiceAddr     = "127.0.0.1:3001"
	DefaultTransport       = WebsocketTransport
	DefaultPortRangeStart  = 6001
	DefaultPortRangeEnd    = 6010
	DefaultDialTimeout     = 1000 * time.Millisecond
	DefaultSyncTimeout     = 5000 * time.Millisecond
	DefaultStore           = false
	DefaultCheckAttendance = true
)

// DefaultDiscoveryHosts are the hosts crossed with the port range during
// discovery.
var DefaultDiscoveryHosts = []string{"127.0.0.1"}

// Config contains all the configuration properties of a ledger node.
type Config struct {
	// DataDir is the top-level directory containing the node's configuration
	// and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, also writes the logs as JSON to this file.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node talks to other
	// nodes. When the port is 0, the first free port of the port range is
	// used instead.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Transport is "ws" or "tcp".
	Transport string `mapstructure:"transport"`

	// PortRangeStart and PortRangeEnd bound the ports probed for a free
	// listening port, and dialed during discovery.
	PortRangeStart int `mapstructure:"port-start"`
	PortRangeEnd   int `mapstructure:"port-end"`

	// DiscoveryHosts are crossed with the port range to form the discovery
	// candidates.
	DiscoveryHosts []string `mapstructure:"discovery-hosts"`

	// Peers are extra addresses to dial on startup.
	Peers []string `mapstructure:"peers"`

	// DialTimeout bounds each connection attempt, handshake included.
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// SyncTimeout bounds each chain or pool request.
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker is the ID of this node on the network. A random ID is used when
	// it is empty.
	Moniker string `mapstructure:"moniker"`

	// Role is "teacher", "student", or empty for a plain relay node. A node
	// with a role registers the identity derived from UserID and Password
	// when it starts.
	Role     string `mapstructure:"role"`
	UserID   string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	// CheckAttendance rejects submitted attendance that does not match an open
	// session.
	CheckAttendance bool `mapstructure:"check-attendance"`

	// Key is the private key used to sign blocks.
	Key *ecdsa.PrivateKey

	// nodeDir is the part of DataDir owned by this node. See ScopeToPort.
	nodeDir string

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		Transport:       DefaultTransport,
		PortRangeStart:  DefaultPortRangeStart,
		PortRangeEnd:    DefaultPortRangeEnd,
		DiscoveryHosts:  DefaultDiscoveryHosts,
		DialTimeout:     DefaultDialTimeout,
		SyncTimeout:     DefaultSyncTimeout,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
		CheckAttendance: DefaultCheckAttendance,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.DialTimeout = 200 * time.Millisecond
	config.SyncTimeout = time.Second
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key
// shared by the nodes of DataDir, as written by keygen.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// ScopeToPort gives the node a directory of its own, named after the port it
// listens on, so that several nodes can run from the same data directory. The
// database directory moves below the default one, unless it was set
// explicitely.
func (c *Config) ScopeToPort(port int) {
	c.nodeDir = filepath.Join(c.DataDir, NodeDirName(port))
	if c.DatabaseDir == filepath.Join(c.DataDir, DefaultBadgerFile) {
		c.DatabaseDir = DatabaseDirForPort(c.DataDir, port)
	}
}

// NodeDir returns the directory holding the files of this node only. It is
// DataDir until ScopeToPort is called.
func (c *Config) NodeDir() string {
	if c.nodeDir == "" {
		return c.DataDir
	}
	return c.nodeDir
}

// NodeKeyfile returns the path of the private key of this node only.
func (c *Config) NodeKeyfile() string {
	return filepath.Join(c.NodeDir(), DefaultKeyfile)
}

// NodeDirName names the directory of the node listening on port.
func NodeDirName(port int) string {
	return fmt.Sprintf("node-%d", port)
}

// DatabaseDirForPort returns the default database directory of the node of
// dataDir that listens on port.
func DatabaseDirForPort(dataDir string, port int) string {
	return filepath.Join(dataDir, DefaultBadgerFile, NodeDirName(port))
}

// HasRole reports whether the node acts on behalf of a user.
func (c *Config) HasRole() bool {
	return c.Role == RoleTeacher || c.Role == RoleStudent
}

// UserType returns the ledger user type of the configured role.
func (c *Config) UserType() string {
	return strings.ToUpper(c.Role)
}

// Logger returns a formatted logrus Entry, with prefix set to "ledgerd".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.AddHook(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
					logrus.FatalLevel: c.LogFile,
					logrus.PanicLevel: c.LogFile,
				},
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "ledgerd")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level ledgerd
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Ledgerd")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Ledgerd")
		} else {
			return filepath.Join(home, ".ledgerd")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
