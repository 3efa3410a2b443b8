// Netinventory discovers devices on IPv4 networks and keeps a registry of
// what it has seen.
//
// Usage:
//
//	netinventory serve            # registry API, SSE stream and scheduled sweeps
//	netinventory scan             # one sweep of the configured targets
//	netinventory export --format ansible
//	netinventory import devices.yml
//
// See 'netinventory --help' for all commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netinventory/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "netinventory",
	Short: "Network device discovery and inventory registry",
	Long: `Netinventory sweeps IPv4 ranges for live hosts, scans a fixed set of
ports on each, classifies what it finds and reconciles the results into a
device registry that keeps a history of every status change.

Configuration is read from $NETINVENTORY_CONFIG, ./netinventory.yaml,
~/.config/netinventory/config.yaml or /etc/netinventory/config.yaml.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path override")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netinventory %s\n", version.Full())
	},
}
