package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/policydesk/internal/core/auth"
	"github.com/solatis/policydesk/internal/core/config"
	"github.com/solatis/policydesk/internal/core/db"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key; the key is printed once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withAuthenticator(cmd, func(a *auth.Authenticator) error {
			key, p, err := a.CreateKey(cmd.Context(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key id: %s\nname:   %s\n", p.KeyID, p.Name)
			okColor.Fprintln(out, key)
			warnColor.Fprintln(cmd.ErrOrStderr(), "store this key now; it cannot be shown again")
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuthenticator(cmd, func(a *auth.Authenticator) error {
			if err := a.RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)
	keysCreateCmd.Flags().String("name", "", "key name")
	keysCreateCmd.MarkFlagRequired("name")
}

func withAuthenticator(cmd *cobra.Command, fn func(*auth.Authenticator) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.RequireMigrated(ctx, database); err != nil {
		return fmt.Errorf("%w - run 'policydesk migrate up' first", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	return fn(auth.NewAuthenticator(secrets, queries))
}
