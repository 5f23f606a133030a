// Package main is the entry point for the resolvarr application.
package main

import (
	"os"

	"github.com/resolvarr/resolvarr/cmd/resolvarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
