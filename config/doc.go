// Package config defines the configuration for a gossipd node.
//
// Regardless of how gossipd is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object
// defined in this package to store and forward configuration options. On
// top of these options, gossipd relies on a data directory, defined by
// Config.WorldDir, where it expects to find:
//
//	priv_key   // a hex dump of the emitter's raw private key (cf. gossipd keygen).
//	peers.json // a JSON file of bootstrap peer addresses.
//	badger_db/ // (when Store is enabled) the durable event log.
package config
