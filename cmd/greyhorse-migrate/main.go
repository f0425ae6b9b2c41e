// Package main is the entry point for the greyhorse migration tool.
package main

import (
	"log/slog"
	"os"

	"github.com/greyhorse-org/greyhorse/cmd/greyhorse-migrate/commands"
)

func main() {
	a, err := commands.New()
	if err != nil {
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		slog.Error(err.Error())

		if a.UsageError() {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
