package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bastion-gate/bastion/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset [principal]",
	Short: "Clear a principal's counters and block",
	Long: `Clear all rate-limit state for one principal directly in Redis.

This removes the principal's primary counter, spam counter, per-operation
counters, activity record, and any active block. The principal starts
from a clean slate on the next request.

Examples:
  # Reset with confirmation
  bastion reset user-42

  # Reset without prompting
  bastion reset user-42 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	principal := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is not configured; reset operates on the shared store")
	}

	if !resetForce {
		fmt.Fprintf(os.Stderr, "Reset all counters and blocks for %q? [y/N] ", principal)
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := cfg.Redis.KeyPrefix
	keys := []string{
		prefix + ":user:" + principal,
		prefix + ":spam:" + principal,
		prefix + ":blocked:" + principal,
		prefix + ":activity:" + principal,
	}

	// Per-operation counters share the principal suffix.
	iter := client.Scan(ctx, 0, prefix+":op:*:"+principal, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan operation keys: %w", err)
	}

	removed, err := client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}

	fmt.Printf("Reset %q: %d key(s) removed.\n", principal, removed)
	return nil
}
