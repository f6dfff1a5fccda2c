// Package main is the entry point for the FDS engine.
package main

import (
	"os"

	"fdsengine/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
