// Package main is the entry point for the docrag CLI.
package main

import (
	"os"

	"github.com/docrag-dev/docrag/cmd/docrag/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
