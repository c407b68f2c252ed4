// cmd/lattice-waves/main.go
//
// This is the entry point for the lattice-waves CLI.
// Run it from a project directory: it reads .lattice/config.yaml and the plan
// document, schedules tasks into waves, and drives delegation runs.

package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
