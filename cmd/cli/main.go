// Package main is the entry point for flowctl, the operator CLI of flowplane.
package main

import (
	"os"

	"flowplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
