// ABOUTME: Entry point for the ragline CLI client.
// ABOUTME: Terminal front end over the sync engine; rendering stays minimal.

package main

import (
	"fmt"
	"os"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
