// Package cli implements the shield command-line interface using Cobra.
// Each subcommand maps to one service capability (serve, train, score, etc.).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shield",
	Short: "SynapseShield: telemetry anomaly scoring for IoT fleets",
	Long: `SynapseShield learns what normal device telemetry looks like and flags
readings that do not fit, recommending a response for each anomaly.

Train an autoencoder on baseline telemetry, score batches or single readings,
follow a live event stream, and push findings to digital twins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
