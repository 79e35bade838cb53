package main

import (
	"fmt"
	"os"

	"github.com/rng-ops/gossip/cmd/gossipd/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
