// Package main is the entry point for the tgcollect CLI.
package main

import (
	"os"

	"github.com/tgcollect/tgcollect/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
