package main

import (
	"fmt"
	"os"

	"github.com/drblury/subserver/internal/cli"
)

// The bare binary runs no subscribers of its own. Programs that register
// subscribers call subserver.RunCLI with a Setup function instead.
func main() {
	if err := cli.Run(os.Args, cli.Options{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
