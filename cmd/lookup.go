package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/app"
)

// detailsCmd prints the raw event behind a result id
var detailsCmd = &cobra.Command{
	Use:   "details <id>",
	Short: "Show the event behind a result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		raw, err := rt.session.Details(ctx, args[0])
		if err != nil {
			rt.flushMessages()
			return fmt.Errorf("failed to fetch details: %w", err)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			fmt.Println(string(raw))
			return nil
		}
		fmt.Println(buf.String())
		return nil
	},
}

// pastCmd lists who searched a value before
var pastCmd = &cobra.Command{
	Use:   "past <value>",
	Short: "Show who searched a value before",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		users, err := rt.session.PastSearchers(ctx, args[0])
		if err != nil {
			rt.flushMessages()
			return fmt.Errorf("failed to fetch past searches: %w", err)
		}
		fmt.Println(app.PastSearchersText(args[0], users))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(pastCmd)
}
