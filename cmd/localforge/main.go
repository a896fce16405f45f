package main

import (
	"fmt"
	"os"

	"github.com/rockbite/localforge/internal/cli"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// Respect container CPU quotas; the default logger is too noisy for a CLI.
	undo, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	defer undo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
