package commands

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledgerd"
)

//NewRunCmd returns the command that starts a ledger node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runLedgerd,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runLedgerd(cmd *cobra.Command, args []string) error {
	engine := ledgerd.NewLedgerd(&_config.Ledgerd)

	if err := engine.Init(); err != nil {
		_config.Ledgerd.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	return engine.Run(context.Background())
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Ledgerd.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Ledgerd.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Ledgerd.LogFile, "Also write JSON logs to this file")
	cmd.Flags().String("moniker", _config.Ledgerd.Moniker, "Optional name, used as node ID")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Ledgerd.BindAddr, "Listen IP:Port for the p2p transport")
	cmd.Flags().StringP("advertise", "a", _config.Ledgerd.AdvertiseAddr, "Advertise IP:Port for the p2p transport")
	cmd.Flags().String("transport", _config.Ledgerd.Transport, "p2p transport: ws or tcp")
	cmd.Flags().Int("port-start", _config.Ledgerd.PortRangeStart, "First port of the discovery range")
	cmd.Flags().Int("port-end", _config.Ledgerd.PortRangeEnd, "Last port of the discovery range")
	cmd.Flags().StringSlice("discovery-hosts", _config.Ledgerd.DiscoveryHosts, "Hosts probed on the discovery range")
	cmd.Flags().StringSlice("peers", _config.Ledgerd.Peers, "Extra peer addresses to dial")
	cmd.Flags().DurationP("dial-timeout", "t", _config.Ledgerd.DialTimeout, "Dial and handshake timeout")
	cmd.Flags().Duration("sync-timeout", _config.Ledgerd.SyncTimeout, "Timeout of a sync request")

	// Service
	cmd.Flags().Bool("no-service", _config.Ledgerd.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Ledgerd.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Ledgerd.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Ledgerd.DatabaseDir, "Database directory")

	// Role
	cmd.Flags().String("role", _config.Ledgerd.Role, "teacher or student")
	cmd.Flags().String("user", _config.Ledgerd.UserID, "User ID registered on start")
	cmd.Flags().String("password", _config.Ledgerd.Password, "Secret the user key is derived from")
	cmd.Flags().Bool("check-attendance", _config.Ledgerd.CheckAttendance, "Check attendance submissions against published sessions")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Ledgerd.SetDataDir(_config.Ledgerd.DataDir)

	logFields := logrus.Fields{
		"ledgerd.DataDir":         _config.Ledgerd.DataDir,
		"ledgerd.BindAddr":        _config.Ledgerd.BindAddr,
		"ledgerd.AdvertiseAddr":   _config.Ledgerd.AdvertiseAddr,
		"ledgerd.Transport":       _config.Ledgerd.Transport,
		"ledgerd.PortRange":       []int{_config.Ledgerd.PortRangeStart, _config.Ledgerd.PortRangeEnd},
		"ledgerd.DiscoveryHosts":  _config.Ledgerd.DiscoveryHosts,
		"ledgerd.Peers":           _config.Ledgerd.Peers,
		"ledgerd.ServiceAddr":     _config.Ledgerd.ServiceAddr,
		"ledgerd.NoService":       _config.Ledgerd.NoService,
		"ledgerd.Store":           _config.Ledgerd.Store,
		"ledgerd.LogLevel":        _config.Ledgerd.LogLevel,
		"ledgerd.Moniker":         _config.Ledgerd.Moniker,
		"ledgerd.DialTimeout":     _config.Ledgerd.DialTimeout,
		"ledgerd.SyncTimeout":     _config.Ledgerd.SyncTimeout,
		"ledgerd.Role":            _config.Ledgerd.Role,
		"ledgerd.UserID":          _config.Ledgerd.UserID,
		"ledgerd.CheckAttendance": _config.Ledgerd.CheckAttendance,
	}

	if _config.Ledgerd.Store {
		logFields["ledgerd.DatabaseDir"] = _config.Ledgerd.DatabaseDir
	}

	_config.Ledgerd.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/ledgerd.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigName) // name of config file (without extension)
	viper.AddConfigPath(_config.Ledgerd.DataDir)  // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Ledgerd.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Ledgerd.Logger().Debugf("No config file found in: %s", _config.Ledgerd.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
