package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	servicesToggle  []string
	servicesRectify bool
)

// servicesCmd lists and toggles the lookup services on the profile
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List, enable or disable lookup services",
	Long: `Services prints the endpoint's service catalog. Services marked [x] are
enabled on your profile and receive the indicators they accept.

Examples:
  # List the catalog
  ioc-console services

  # Enable shodan if disabled, disable it otherwise
  ioc-console services --toggle shodan

  # Ask the endpoint to rebuild its catalog
  ioc-console services --rectify`,
	RunE: runServices,
}

func init() {
	rootCmd.AddCommand(servicesCmd)

	servicesCmd.Flags().StringSliceVar(&servicesToggle, "toggle", nil, "Service kinds to enable or disable (comma-separated)")
	servicesCmd.Flags().BoolVar(&servicesRectify, "rectify", false, "Ask the endpoint to rectify the catalog before listing it")
}

func runServices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if servicesRectify {
		if _, err := rt.session.Rectify(ctx); err != nil {
			rt.flushMessages()
			return fmt.Errorf("failed to rectify services: %w", err)
		}
	}

	for _, kind := range servicesToggle {
		enabled, err := rt.session.ToggleService(ctx, kind)
		if err != nil {
			rt.flushMessages()
			return fmt.Errorf("failed to toggle %s: %w", kind, err)
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Printf("✓ %s %s\n", kind, state)
	}

	printCatalog(os.Stdout, rt.session.Catalog())
	rt.flushMessages()
	return nil
}
