package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-chat/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue a bearer token for the API",
	Long:  `Signs a JWT with JWT_SECRET for calling the /api/v1 endpoints.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", tokenTTL)
	}

	token, err := auth.NewAdapter(cfg.Auth.JWTSecret).GenerateToken(domain.NewTokenClaims(args[0], tokenTTL))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	cmd.Println(token)
	return nil
}
