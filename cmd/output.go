package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Ashfaaq98/ioc-console/internal/extract"
	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
)

// printRecords writes records as a numbered list in display order.
func printRecords(w io.Writer, title string, records []results.Record) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No %s found.\n", title)
		return
	}
	fmt.Fprintf(w, "Found %d %s:\n\n", len(records), title)
	for i, r := range results.SortForDisplay(records) {
		fmt.Fprintf(w, "%d. %s\n", i+1, r.Value)
		if r.From != "" {
			fmt.Fprintf(w, "   From: %s\n", r.From)
		}
		if r.Matched != 0 {
			fmt.Fprintf(w, "   Matched: %s\n", strconv.FormatFloat(r.Matched, 'f', -1, 64))
		}
		if r.Info != "" {
			fmt.Fprintf(w, "   Info: %s\n", r.Info)
		}
		if r.ID != "" {
			fmt.Fprintf(w, "   ID: %s\n", r.ID)
		}
		if r.Link != "" {
			fmt.Fprintf(w, "   Link: %s\n", r.Link)
		}
	}
}

// printCatalog writes the service catalog, marking enabled services.
func printCatalog(w io.Writer, catalog []service.Descriptor) {
	if len(catalog) == 0 {
		fmt.Fprintln(w, "No services available.")
		return
	}
	for _, d := range catalog {
		mark := " "
		if d.Selected {
			mark = "x"
		}
		name := d.Name
		if name == "" {
			name = d.Kind
		}
		fmt.Fprintf(w, "[%s] %-16s %s\n", mark, d.Kind, name)
		if kinds := kindList(d.Types); kinds != "" {
			fmt.Fprintf(w, "    accepts: %s\n", kinds)
		}
		if d.Description != "" {
			fmt.Fprintf(w, "    %s\n", d.Description)
		}
	}
}

func kindList(kinds []extract.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// readInput joins args, or reads path, or reads stdin when neither is given.
func readInput(args []string, path string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
