package main

import (
	"errors"
	"fmt"
	"time"

	"crm-telephony/internal/auth"
	"crm-telephony/internal/config"
	"crm-telephony/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var id auth.Identity
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for local testing (local/dev only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			if cfg.App.Env != "local" && cfg.App.Env != "dev" {
				return errors.New("token is only available in local and dev")
			}
			if !rbac.IsKnownRole(id.Role) {
				return fmt.Errorf("unknown role %q", id.Role)
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "dev-user", "user id claim")
	cmd.Flags().StringVar(&id.OrgID, "org", "dev-org", "org id claim")
	cmd.Flags().StringVar(&id.Role, "role", rbac.RoleAgent, "role claim (agent, manager, admin)")
	return cmd
}
