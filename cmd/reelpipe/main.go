// Package main is the entry point for the reelpipe application.
package main

import (
	"os"

	"github.com/jmylchreest/reelpipe/cmd/reelpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
