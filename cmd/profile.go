package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	profileEmail string
	profileKey   string
	profileURL   string
)

// profileCmd shows or updates the stored credentials
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or set the e-mail, key and API URL",
	Long: `Profile stores the credentials sent with every request to the lookup
endpoint. Without flags it prints the current profile with the key masked.

Examples:
  ioc-console profile --email analyst@example.com --key s3cret --url https://ioc.example.com/`,
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringVar(&profileEmail, "email", "", "Account e-mail")
	profileCmd.Flags().StringVar(&profileKey, "key", "", "API key")
	profileCmd.Flags().StringVar(&profileURL, "url", "", "Lookup endpoint base URL")
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	flags := cmd.Flags()
	if flags.Changed("email") || flags.Changed("key") || flags.Changed("url") {
		u := rt.session.User()
		email, key, url := u.Email, u.Key, rt.session.APIURL()
		if flags.Changed("email") {
			email = profileEmail
		}
		if flags.Changed("key") {
			key = profileKey
		}
		if flags.Changed("url") {
			url = profileURL
		}
		if err := rt.session.SetUserData(ctx, email, key, url); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		if err := rt.session.Init(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Profile saved")
	}

	u := rt.session.User()
	fmt.Printf("E-mail:   %s\n", orUnset(u.Email))
	fmt.Printf("Key:      %s\n", maskKey(u.Key))
	fmt.Printf("API URL:  %s\n", rt.session.APIURL())
	fmt.Printf("Services: %d enabled\n", len(u.Services))
	rt.flushMessages()
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskKey keeps the last four characters of key.
func maskKey(key string) string {
	if key == "" {
		return "<not set>"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
