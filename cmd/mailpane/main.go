// Package main is the entry point for the mailpane CLI.
package main

import (
	"fmt"
	"os"

	"github.com/nhle/mailpane/internal/cli"
)

// Version information (set by goreleaser)
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
