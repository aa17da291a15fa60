// Package cmd provides the CLI commands for admitgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/admitgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "admitgate",
	Short: "admitgate - tiered request admission control",
	Long: `admitgate is an HTTP gateway that admits or rejects requests per client
and per route tier before forwarding them to your upstream service.

Counters live in Redis when a connection string is configured, and in
process memory otherwise. A Redis outage degrades to the in-memory store
without rejecting traffic.

Quick start:
  1. Optionally create a config file: admitgate.yaml
  2. Run: admitgate start

Configuration:
  Config is loaded from admitgate.yaml in the current directory,
  $HOME/.admitgate/, or /etc/admitgate/.

  Environment variables can override config values with the ADMITGATE_ prefix.
  Example: ADMITGATE_SERVER_HTTP_ADDR=:9090
  REDIS_URL is honoured when ADMITGATE_STORE_REDIS_URL is not set.

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  config      Print the effective configuration
  keys        Inspect or purge rate limit counters
  hash-key    Generate an Argon2id hash for the admin API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./admitgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
