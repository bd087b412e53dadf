// Package cmd provides the CLI commands for Bastion.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastion-gate/bastion/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion - security perimeter service",
	Long: `Bastion is a security perimeter for payment and bot backends.

It combines a distributed sliding-window rate limiter, webhook
signature validation with source-IP allowlists, and a role-based
access registry into a single admission decision with escalating
abuse response: rate-limit first, then a temporary block.

Quick start:
  1. Create a config file: bastion.yaml
  2. Run: bastion serve

Configuration:
  Config is loaded from bastion.yaml in the current directory,
  $HOME/.bastion/, or /etc/bastion/.

  Environment variables can override config values with the BASTION_ prefix.
  Example: BASTION_SERVER_HTTP_ADDR=:9090

Commands:
  serve         Start the perimeter service
  reset         Clear a principal's counters and block
  hash-token    Generate an argon2id hash for the admin token
  print-config  Print the effective configuration
  version       Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bastion.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
