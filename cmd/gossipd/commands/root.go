package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rng-ops/gossip/config"
	"github.com/rng-ops/gossip/version"
)

var _config = config.NewDefaultConfig()

// RootCmd is the root command for gossipd.
var RootCmd = &cobra.Command{
	Use:              "gossipd",
	Short:            "terrain gossip node",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(NewRunCmd())
	RootCmd.AddCommand(NewKeygenCmd())
	RootCmd.AddCommand(NewConfigCmd())
	RootCmd.AddCommand(NewInspectCmd())
	RootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gossipd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Version)
			return nil
		},
	}
}
