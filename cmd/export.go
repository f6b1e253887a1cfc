package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/export"
)

var (
	exportDir     string
	exportFile    string
	exportHistory bool
)

// exportCmd searches text and writes the results as CSV
var exportCmd = &cobra.Command{
	Use:   "export [text...]",
	Short: "Search text and export the results as CSV",
	Long: `Export runs a search like 'search' and writes the results to
<dir>/results-<year>-<month>-<day>.csv. With --history the persisted history is
appended. Without any text only the history is exported.

Examples:
  ioc-console export --dir ./exports --file report.txt
  ioc-console export --dir ./exports --history 8.8.8.8`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Directory to write the CSV file into")
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "Read the text to search from a file")
	exportCmd.Flags().BoolVar(&exportHistory, "history", false, "Append the persisted history")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	includeHistory := exportHistory
	if len(args) == 0 && exportFile == "" {
		includeHistory = true
	} else {
		text, err := readInput(args, exportFile)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			if err := searchAndWait(cmd, rt, text); err != nil {
				return err
			}
		}
	}

	if _, err := rt.session.Export(ctx, includeHistory, export.FileSaver{Dir: exportDir}); err != nil {
		rt.flushMessages()
		return fmt.Errorf("failed to export: %w", err)
	}
	rt.flushMessages()
	return nil
}
