// Package main provides the entry point for channelmesh-probe.
//
// channelmesh-probe runs the ChannelMesh subscription engine against a
// simulated in-memory cluster, for exploring routing, reconciliation,
// and introspection behavior from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/channelmesh/channelmesh-go/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
