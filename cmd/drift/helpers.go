package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	drift "github.com/driftapp/drift-go"
)

func init() {
	// Local development override; ignored when no .env exists.
	_ = godotenv.Load()
}

// getClient creates a Drift client authenticated with the stored token.
// DRIFT_TOKEN and DRIFT_BASE_URL environment variables take precedence over
// the config file.
func getClient() *drift.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("DRIFT_TOKEN")
	if token == "" {
		token = cfg.Auth.Token
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'drift login <username>' first.")
		os.Exit(1)
	}

	var opts []drift.ClientOption
	if url := os.Getenv("DRIFT_BASE_URL"); url != "" {
		opts = append(opts, drift.WithBaseURL(url))
	} else if cfg.Default.BaseURL != "" {
		opts = append(opts, drift.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, drift.WithEnvironment(drift.Environment(cfg.Default.Environment)))
	}

	return drift.NewClient(token, opts...)
}

// currentUserID returns the stored user ID, exiting if not logged in.
func currentUserID() string {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'drift login <username>' first.")
		os.Exit(1)
	}
	return cfg.Auth.UserID
}

// apiError formats a Drift API error for display.
func apiError(result *drift.Result) error {
	if result.Error != nil {
		return fmt.Errorf("API error: %s: %s", result.Error.Code, result.Error.Message)
	}
	return fmt.Errorf("API returned an error (no details)")
}
