package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue credentials for the API",
	Long: `Issue credentials for the API.

Without flags, mints an admin JWT signed with ADMIN_JWT_SECRET for use
as a Bearer token against the admin endpoints. With --device-key,
generates a fresh shared key for provisioning a kiosk instead.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("username", "", "Admin username embedded in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().Bool("device-key", false, "Generate a kiosk device key instead of an admin token")
}

func runToken(cmd *cobra.Command, args []string) error {
	if mustGetBool(cmd, "device-key") {
		fmt.Println(uuid.NewString())
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET environment variable is required")
	}

	username := mustGetString(cmd, "username")
	if username == "" {
		return errors.New("--username is required")
	}

	token, err := middleware.IssueAdminToken(cfg.Auth.JWTSecret, username, mustGetDuration(cmd, "ttl"))
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}
