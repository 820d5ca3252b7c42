package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/identity"
)

// NewIssueTokenCmd signs an identity token for local testing.
func NewIssueTokenCmd(configPath *string) *cobra.Command {
	var id domain.Identity
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a signed identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			tokens := identity.NewTokens(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			raw, err := tokens.Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&id.Username, "name", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
