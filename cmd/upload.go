package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// uploadCmd sends a sample file to the endpoint's uploader
var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to the lookup endpoint",
	Long: `Upload sends the file in 1 MiB chunks. The stored name gets the upload time
appended so repeated uploads never collide.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		rec, err := rt.session.Upload(ctx, args[0])
		rt.flushMessages()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", args[0], err)
		}
		printRecords(os.Stdout, "uploads", []results.Record{rec})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
