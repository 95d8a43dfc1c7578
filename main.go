// Package main is the entry point for the ingest pipeline executable.
package main

import (
	"fmt"
	"os"

	"github.com/ingestlane/pipeline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
