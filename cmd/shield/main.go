// Package main is the single-binary entrypoint for SynapseShield.
package main

import "github.com/synapseshield/shield/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
