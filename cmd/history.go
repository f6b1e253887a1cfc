package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/export"
)

var (
	historyClear  bool
	historyExport string
	historyYes    bool
)

// historyCmd shows, exports or clears the persisted search history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show, export or clear the search history",
	Long: `History lists the persisted results of past searches, newest first.

Examples:
  # List the history
  ioc-console history

  # Export the history to ./exports/results-<date>.csv
  ioc-console history --export ./exports

  # Clear the history
  ioc-console history --clear --yes`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Clear the persisted history")
	historyCmd.Flags().BoolVarP(&historyYes, "yes", "y", false, "Do not ask for confirmation when clearing")
	historyCmd.Flags().StringVar(&historyExport, "export", "", "Export the history as CSV into this directory")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch {
	case historyExport != "":
		if _, err := rt.session.Export(ctx, true, export.FileSaver{Dir: historyExport}); err != nil {
			return fmt.Errorf("failed to export history: %w", err)
		}
	case historyClear:
		if !historyYes && !confirmPrompt("Clear the whole search history?") {
			fmt.Println("History left unchanged.")
			return nil
		}
		if err := rt.session.ClearHistory(ctx); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Println("✓ History cleared")
	default:
		printRecords(os.Stdout, "history entries", rt.session.Aggregator().History())
	}
	rt.flushMessages()
	return nil
}
