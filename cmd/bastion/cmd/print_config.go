package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bastion-gate/bastion/internal/config"
)

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML after merging defaults,
the config file, and environment overrides.

Provider secrets and the admin token hash are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		redacted := *cfg
		if redacted.Admin.TokenHash != "" {
			redacted.Admin.TokenHash = "<redacted>"
		}
		if redacted.Redis.Password != "" {
			redacted.Redis.Password = "<redacted>"
		}
		if len(cfg.Providers) > 0 {
			redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
			for name, pc := range cfg.Providers {
				if pc.Secret != "" {
					pc.Secret = "<redacted>"
				}
				redacted.Providers[name] = pc
			}
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(redacted); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(printConfigCmd)
}
