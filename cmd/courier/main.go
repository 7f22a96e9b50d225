package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register built-in capability kinds.
	_ "github.com/courier-dev/courier/agents"
)

// Version information (set via ldflags)
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Typed message dispatch for agent fleets",
	Long: `Courier runs a dispatch host that routes typed envelopes to the
agents registered for them, over HTTP, gRPC, or NATS. The same binary
doubles as a client for submitting envelopes and inspecting a host.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the courier version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("courier v%s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
