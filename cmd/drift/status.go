package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	drift "github.com/driftapp/drift-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check if the token is expired, and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Username: (not logged in)")
		}

		// Check token expiry.
		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			if cfg.Auth.TokenExpires != "" {
				expires, err := time.Parse(time.RFC3339, cfg.Auth.TokenExpires)
				if err == nil {
					if time.Now().Before(expires) {
						tokenStatus = fmt.Sprintf("valid (expires %s)", expires.Format(time.RFC3339))
					} else {
						tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", expires.Format(time.RFC3339))
					}
				} else {
					tokenStatus = fmt.Sprintf("present (unparseable expiry: %s)", cfg.Auth.TokenExpires)
				}
			} else {
				tokenStatus = "present (no expiry set)"
			}
		}
		fmt.Printf("  Token:    %s\n", tokenStatus)

		// If we have a token, try live status via me().
		if cfg.Auth.Token != "" {
			fmt.Println()
			fmt.Println("Live status:")

			var opts []drift.ClientOption
			if cfg.Default.BaseURL != "" {
				opts = append(opts, drift.WithBaseURL(cfg.Default.BaseURL))
			} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
				opts = append(opts, drift.WithEnvironment(drift.Environment(cfg.Default.Environment)))
			}

			client := drift.NewClient(cfg.Auth.Token, opts...)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			result, err := client.Chat().Account.Me(ctx)
			if err != nil {
				fmt.Printf("  Error fetching account info: %v\n", err)
				return nil
			}
			if !result.OK {
				if result.Error != nil {
					fmt.Printf("  API error: %s: %s\n", result.Error.Code, result.Error.Message)
				} else {
					fmt.Println("  API returned an error (no details)")
				}
				return nil
			}

			var me drift.MeData
			if err := result.Decode(&me); err != nil {
				fmt.Printf("  Error decoding response: %v\n", err)
				return nil
			}

			fmt.Printf("  Username:      %s\n", me.User.Username)
			fmt.Printf("  Display Name:  %s\n", me.User.DisplayName)
			fmt.Printf("  Conversations: %d\n", me.Stats.ConversationCount)
			fmt.Printf("  Contacts:      %d\n", me.Stats.ContactCount)
			fmt.Printf("  Messages Sent: %d\n", me.Stats.MessagesSent)
			fmt.Printf("  Unread:        %d\n", me.Stats.UnreadCount)
		}

		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
