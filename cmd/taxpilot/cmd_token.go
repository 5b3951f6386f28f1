package main

import (
	"errors"
	"fmt"

	"taxpilot/internal/server"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	Long: `Signs a token for the given --user with the configured JWT secret.
Meant for local use against 'taxpilot serve'.`,
	RunE: runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("no JWT secret configured (set TAXPILOT_JWT_SECRET)")
	}

	token, expiresAt, err := server.GenerateToken(userID, &cfg.Server)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Printf("expires: %s\n", expiresAt.Format("2006-01-02 15:04:05"))
	return nil
}
