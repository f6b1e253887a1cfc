package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/ingest"
	"github.com/Ashfaaq98/ioc-console/internal/refresh"
	"github.com/Ashfaaq98/ioc-console/internal/ui"
)

var (
	noTUI     bool
	forceTUI  bool
	serveDir  string
	theme     string
	exportTo  string
	errorHold time.Duration
	serveHTTP intakeFlags
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the terminal UI",
	Long: `Start the IOC Console terminal UI which includes:

1. A text box to paste reports, alerts or log lines into
2. The ranked results of the current search and the search history
3. The service catalog with the services enabled on your profile
4. A status line with errors, running lookups or "System nominal"

Files dropped into the incoming directory are searched as they appear, so the
UI can follow a log or a shared folder. Logs go to the log file while the UI
owns the terminal.

Examples:
  # Start with TUI (default)
  ioc-console serve

  # Watch another directory and accept text over HTTP
  ioc-console serve --incoming ./drop --http-intake

  # Start without TUI (headless mode)
  ioc-console serve --no-tui`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&noTUI, "no-tui", false, "Run in headless mode without TUI")
	serveCmd.Flags().BoolVar(&forceTUI, "force-tui", false, "Force TUI mode even in unsupported terminals")
	serveCmd.Flags().StringVar(&serveDir, "incoming", "data/incoming", "Directory searched as files appear (empty disables)")
	serveCmd.Flags().StringVar(&theme, "theme", "", "Color theme: dark, light or high-contrast")
	serveCmd.Flags().StringVar(&exportTo, "export-dir", "", "Default directory offered by the export dialog")
	serveCmd.Flags().DurationVar(&errorHold, "error-hold", 3*time.Second, "Keep errors on the TUI status line at least this long (headless: 0 unless set)")
	serveHTTP.register(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	useTUI := !noTUI && (forceTUI || canInitializeTUI())
	rt, err := openEnv(ctx, useTUI)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.logger.Named("serve")
	logger.Info("starting ioc-console", zap.Bool("tui", useTUI), zap.String("terminal", getTerminalInfo()))
	if !noTUI && !useTUI {
		fmt.Fprintln(os.Stderr, "TUI cannot be initialized in this terminal environment, running headless.")
		fmt.Fprintln(os.Stderr, "Use 'ioc-console search' for one-off searches.")
	}

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()

	if serveDir != "" {
		dir := resolvePathRelativeToBase(getWorkingDir(), serveDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create incoming directory %s: %w", dir, err)
		}
		if err := serveHTTP.start(svcCtx, dir, rt.logger); err != nil {
			logger.Warn("http intake disabled", zap.Error(err))
		}
		fi := ingest.NewFolderIngestor(rt.session, ingest.FolderOptions{
			Dir:      dir,
			Watch:    true,
			Patterns: []string{"*.txt", "*.log"},
			// existing log lines were searched on a previous run
			TailFromEnd: true,
			Logger:      rt.logger.Named("ingest"),
		})
		go func() {
			if err := fi.Run(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("folder ingest stopped", zap.Error(err))
			}
		}()
	}

	if !useTUI {
		loop := refresh.NewLoop(rt.session.Aggregator(), &logPresenter{logger: logger}, refresh.Options{ErrorHold: errorHoldFor(cmd, false)}, logger)
		logger.Info("running in headless mode")
		if err := loop.Run(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("received shutdown signal")
		return nil
	}

	view := ui.NewUI(svcCtx, rt.session, ui.Options{
		Theme:     theme,
		ExportDir: exportTo,
		ErrorHold: errorHoldFor(cmd, true),
	}, rt.logger)
	if err := view.Start(svcCtx); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	logger.Info("TUI exited, stopping background services")
	return nil
}

// errorHoldFor returns the --error-hold value. Headless output is a log, so
// errors are held there only when the flag was given explicitly.
func errorHoldFor(cmd *cobra.Command, tui bool) time.Duration {
	hold, err := cmd.Flags().GetDuration("error-hold")
	if err != nil {
		return 0
	}
	if !tui && !cmd.Flags().Changed("error-hold") {
		return 0
	}
	return hold
}
