package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate an argon2id hash for the admin token",
	Long: `Generate an argon2id hash of the admin bearer token for use in config.

The output is a PHC-format string which can be directly used in the
admin.token_hash field.

Example:
  bastion hash-token "my-secret-admin-token"
  # Output: $argon2id$v=19$m=65536,t=1,p=...

Security note: The token will appear in shell history.
Consider clearing history after use or using environment variable:
  bastion hash-token "$BASTION_ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
