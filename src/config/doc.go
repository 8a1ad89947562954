// Package config defines the configuration for a ledger node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // (optional) a hex private key shared by the nodes of the directory (cf. ledgerd keygen).
//  ledgerd.toml // (optional) configuration values, overridden by command line flags.
//  node-<port>/priv_key // the key of the node listening on <port>, created if needed.
//  node-<port>/peers.json // the peers known when that node last shut down.
//  badger_db/node-<port>/ // the database of that node, with --store.
//
// Several nodes can therefore share a data directory as long as they listen
// on different ports.
package config
