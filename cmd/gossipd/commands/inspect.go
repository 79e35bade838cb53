package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/engine"
	"github.com/rng-ops/gossip/store"
	"github.com/rng-ops/gossip/validate"
)

// NewInspectCmd returns the command that prints a node's durable state
// without gossiping, for operator debugging. It opens the badger store the
// same read-write way run does, so it needs a store no running node holds.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect durable state",
	}
	cmd.AddCommand(newInspectFrontierCmd())
	return cmd
}

func newInspectFrontierCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "frontier",
		Short:   "Print this node's version vector frontier as JSON",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !_config.Store {
				return fmt.Errorf("inspect frontier requires a badger-backed node (--store)")
			}

			pipeline := validate.NewPipeline(validate.Config{
				RateBucketCapacity: _config.RateBucketCapacity,
				RateRefillPerSec:   _config.RateRefillPerSec,
				RateBufferSize:     _config.RateBufferSize,
				ReputationFloor:    _config.ReputationFloor,
			}, nil)

			db, err := store.OpenBadgerStore(_config.DatabaseDir, pipeline)
			if err != nil {
				return fmt.Errorf("open badger store: %w", err)
			}
			defer db.Close()

			world, err := worldFromConfig()
			if err != nil {
				return err
			}

			fv := db.Frontier(world)
			components := make(map[string]uint64, len(fv.Replicas()))
			for _, r := range fv.Replicas() {
				components[hex.EncodeToString(r.Bytes())] = fv.Get(r)
			}
			out, err := codec.DebugJSON(components)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func worldFromConfig() (crypto.Hash, error) {
	var ruleBundleHash crypto.Hash
	if _config.RuleBundleHashHex != "" {
		raw, err := hex.DecodeString(_config.RuleBundleHashHex)
		if err != nil {
			return crypto.Hash{}, fmt.Errorf("rule bundle hash: %w", err)
		}
		if len(raw) != len(ruleBundleHash) {
			return crypto.Hash{}, fmt.Errorf("rule bundle hash: want %d bytes, got %d", len(ruleBundleHash), len(raw))
		}
		copy(ruleBundleHash[:], raw)
	}
	return crypto.WorldID(engine.NormalizePhrase(_config.WorldPhrase), ruleBundleHash), nil
}
