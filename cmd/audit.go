package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/store"
)

var (
	auditAction string
	auditLimit  int
)

// auditCmd lists recorded console actions
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recorded searches, exports and profile changes",
	Long: `Audit prints the action log kept by the SQLite store, newest first.

Examples:
  ioc-console audit
  ioc-console audit --action search --limit 5`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditAction, "action", "", "Only show this action (search, toggle_service, export, clear_history, upload, profile_update)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum number of entries to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	st, err := store.NewStore(resolvePathRelativeToBase(getWorkingDir(), cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	entries, err := st.GetAuditEntries(ctx, auditAction, auditLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	fmt.Printf("Found %d audit entries:\n\n", len(entries))
	for i, e := range entries {
		actor := e.Actor
		if actor == "" {
			actor = "-"
		}
		fmt.Printf("%d. [%s] %s by %s\n", i+1, e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, actor)
		if details := formatDetails(e.Details); details != "" {
			fmt.Printf("   %s\n", details)
		}
	}
	return nil
}

func formatDetails(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return strings.Join(parts, " ")
}
