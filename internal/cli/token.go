package cli

import (
	"fmt"
	"time"

	"assessment-attempt-service/internal/config"
	"assessment-attempt-service/internal/domain"
	transport "assessment-attempt-service/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewTokenCmd issues a signed token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret not configured")
			}
			r := domain.Role(role)
			switch r {
			case domain.RoleCandidate, domain.RoleRecruiter, domain.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := transport.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(args[0], r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCandidate), "candidate, recruiter or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
