package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	drift "github.com/driftapp/drift-go"
)

var loginDisplayName string

func init() {
	loginCmd.Flags().StringVar(&loginDisplayName, "display-name", "", "Display name shown to contacts")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Register or log in and store the token",
	Long:  "Register the username with the Drift service (or log back in) and store the returned token locally.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Build client options.
		var opts []drift.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, drift.WithBaseURL(cfg.Default.BaseURL))
		} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
			opts = append(opts, drift.WithEnvironment(drift.Environment(cfg.Default.Environment)))
		}

		client := drift.NewClient("", opts...)

		displayName := loginDisplayName
		if displayName == "" {
			displayName = username
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := client.Chat().Account.Register(ctx, &drift.RegisterOptions{
			Username:    username,
			DisplayName: displayName,
		})
		if err != nil {
			return fmt.Errorf("login request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var reg drift.RegisterData
		if err := result.Decode(&reg); err != nil {
			return fmt.Errorf("failed to decode login response: %w", err)
		}

		cfg.Auth.Token = reg.Token
		cfg.Auth.UserID = reg.UserID
		cfg.Auth.Username = reg.Username
		cfg.Auth.TokenExpires = reg.ExpiresIn

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged in!")
		fmt.Printf("  User ID:  %s\n", reg.UserID)
		fmt.Printf("  Username: %s\n", reg.Username)
		if reg.IsNew {
			fmt.Println("  (new account created)")
		}
		fmt.Printf("  Token expires: %s\n", reg.ExpiresIn)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth = ConfigAuth{}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintln(os.Stdout, "Logged out.")
		return nil
	},
}
