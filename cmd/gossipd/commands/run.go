package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rng-ops/gossip/engine"
)

// NewRunCmd returns the command that starts a gossipd node.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	n := engine.NewNode(_config)

	if err := n.Init(); err != nil {
		_config.Logger().WithField("error", err).Error("cannot initialize node")
		return err
	}

	n.Run()

	return nil
}

// AddRunFlags adds flags to the run command, one per Config field that an
// operator would plausibly want to override.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.WorldDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name, used only in logs")

	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for this node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Address to advertise to peers, if different from listen")

	cmd.Flags().String("world-phrase", _config.WorldPhrase, "Phrase identifying the world this node joins")
	cmd.Flags().String("rule-bundle-hash", _config.RuleBundleHashHex, "Hex hash of the rule bundle in force for this world")

	cmd.Flags().Duration("gossip-interval", _config.GossipInterval, "Time between gossip cycles")
	cmd.Flags().Duration("sync-timeout", _config.StageTimeout, "Timeout for each stage of a sync")
	cmd.Flags().Uint32("max-events-per-sync", _config.MaxEventsPerSync, "Max events served per delta exchange")
	cmd.Flags().Int("active-peers", _config.ActivePeers, "Size of the peer working set each cycle's sync peer is drawn from")
	cmd.Flags().Int("random-slots", _config.RandomSlots, "Working-set slots filled with peers drawn at random rather than by score")
	cmd.Flags().Int("anti-entropy-every", _config.AntiEntropyEvery, "Run the anti-entropy sweep once every N cycles")
	cmd.Flags().Int("anti-entropy-fanout", _config.AntiEntropyFanout, "Max event ids offered per cell in an anti-entropy sweep")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Pooled connections kept per peer")

	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of an in-memory store")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Uint64("store-budget", _config.StoreBudget, "Admitted events retained before the retention sweep evicts")

	cmd.Flags().Int("rate-bucket-capacity", _config.RateBucketCapacity, "Per-emitter token bucket capacity")
	cmd.Flags().Float64("rate-refill-per-sec", _config.RateRefillPerSec, "Per-emitter token bucket refill rate")
	cmd.Flags().Int("rate-buffer-size", _config.RateBufferSize, "Per-emitter overflow queue depth for rate-limited events")
	cmd.Flags().Float64("reputation-floor", _config.ReputationFloor, "Minimum admission probability the reputation gate grants any emitter")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, update the default
	// database dir to live inside the new datadir.
	_config.SetWorldDir(_config.WorldDir)

	_config.Logger().WithFields(logrus.Fields{
		"worlddir":     _config.WorldDir,
		"bindaddr":     _config.BindAddr,
		"advertise":    _config.AdvertiseAddr,
		"store":        _config.Store,
		"log":          _config.LogLevel,
		"moniker":      _config.Moniker,
		"gossipinterv": _config.GossipInterval,
	}).Debug("RUN")

	return nil
}

// bindFlagsLoadViper registers cmd's flags with viper, then unmarshals
// twice: once from flags/env, once more after a config file (if any) is
// read, so a config file can fill in anything a flag didn't override.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	viper.SetConfigName("gossipd")
	viper.AddConfigPath(_config.WorldDir)

	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("no config file found in: %s", _config.WorldDir)
	} else {
		return err
	}

	return viper.Unmarshal(_config)
}
