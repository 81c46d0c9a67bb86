package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/pricecards/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(global *globalOptions) *cobra.Command {
	var (
		subject   string
		foxUserID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for api-service",
		Long:  "Signs a token with the api-service secret taken from API_JWT_SECRET or auth.jwt_secret in --config.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			secret := os.Getenv("API_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return errors.New("no jwt secret: set API_JWT_SECRET or auth.jwt_secret")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenExpiry
			}

			token, expiresAt, err := auth.GenerateToken(secret, subject, foxUserID, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cardctl", "token subject")
	cmd.Flags().StringVar(&foxUserID, "fox-user", "", "marketplace user id carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
