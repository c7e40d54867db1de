// Package main is the entry point for the fastlane CLI.
// The CLI is the developer terminal tool for interacting with the fastlane API.
package main

import (
	"os"

	"fastlane/cmd/fastlanectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
