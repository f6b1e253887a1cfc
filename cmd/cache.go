package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/client"
)

var (
	cacheVendor string
	cacheStart  int
	cacheLimit  int
)

// cacheCmd prints the endpoint's cached service responses
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show cached responses held by the lookup endpoint",
	Long: `Cache prints the responses the endpoint cached for a vendor.

Examples:
  ioc-console cache --vendor misp --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		q := client.CacheQuery{Vendor: cacheVendor}
		if cmd.Flags().Changed("start") {
			q.Start = &cacheStart
		}
		if cmd.Flags().Changed("limit") {
			q.Limit = &cacheLimit
		}
		out, err := rt.session.ResponseCache(ctx, q)
		if err != nil {
			rt.flushMessages()
			return fmt.Errorf("failed to fetch cached responses: %w", err)
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.Flags().StringVar(&cacheVendor, "vendor", "", "Service kind whose responses to show")
	cacheCmd.Flags().IntVar(&cacheStart, "start", 0, "Offset of the first response")
	cacheCmd.Flags().IntVar(&cacheLimit, "limit", 0, "Maximum number of responses")
}
