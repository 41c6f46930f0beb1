package main

import (
	"errors"
	"os"

	"github.com/augmentedstartups/visioncraft-mcp/cli"
)

// Set via ldflags at build time.
var version = "1.0.8"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
