package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/app"
	"github.com/Ashfaaq98/ioc-console/internal/extract"
)

var (
	searchFile    string
	searchExtract bool
)

// searchCmd runs one search without the TUI
var searchCmd = &cobra.Command{
	Use:   "search [text...]",
	Short: "Extract indicators from text and look them up",
	Long: `Search extracts every indicator from the given text, looks each one up with
the services enabled on your profile and prints the results once every lookup
has finished. Private IPv4 addresses are never sent.

Text is taken from the arguments, from --file, or from stdin.

Examples:
  # Search a single indicator
  ioc-console search 8.8.8.8

  # Search a report
  ioc-console search --file report.txt

  # Only show what would be searched
  cat alert.log | ioc-console search --extract-only`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchFile, "file", "f", "", "Read the text to search from a file")
	searchCmd.Flags().BoolVar(&searchExtract, "extract-only", false, "Print the extracted indicators without searching")
}

func runSearch(cmd *cobra.Command, args []string) error {
	text, err := readInput(args, searchFile)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to search")
	}

	if searchExtract {
		printExtraction(extract.Extract(text))
		return nil
	}

	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := searchAndWait(cmd, rt, text); err != nil {
		return err
	}
	printRecords(os.Stdout, "results", rt.session.Aggregator().Results())
	rt.flushMessages()
	return nil
}

// searchAndWait dispatches text and blocks until every lookup finished.
func searchAndWait(cmd *cobra.Command, rt *env, text string) error {
	batch, err := rt.session.Search(cmd.Context(), text)
	if err != nil {
		rt.flushMessages()
		if errors.Is(err, app.ErrNotConfigured) {
			return fmt.Errorf("%w: run 'ioc-console profile' first", err)
		}
		return err
	}
	batch.Wait()
	return cmd.Context().Err()
}

func printExtraction(res extract.Result) {
	if res.Count() == 0 {
		fmt.Println("No indicators found.")
		return
	}
	for _, set := range res.Ordered() {
		if set.Empty() {
			continue
		}
		fmt.Printf("%s (%d):\n", set.Kind, len(set.Matches))
		for _, m := range set.Matches {
			fmt.Printf("   %s\n", m)
		}
	}
}
