package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rng-ops/gossip/codec"
)

// NewConfigCmd returns the config command and its dump subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigDumpCmd())
	return cmd
}

func newConfigDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dump",
		Short:   "Print the merged configuration as JSON",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := codec.DebugJSON(_config)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
