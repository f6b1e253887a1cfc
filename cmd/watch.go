package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/dispatch"
	"github.com/Ashfaaq98/ioc-console/internal/ingest"
	"github.com/Ashfaaq98/ioc-console/internal/refresh"
	"github.com/Ashfaaq98/ioc-console/internal/results"
)

var (
	watchOnce     bool
	watchPatterns string
	watchTail     bool
	intake        intakeFlags
)

// intakeFlags configures the optional HTTP intake shared by watch and serve.
type intakeFlags struct {
	enable bool
	bind   string
	token  string
	rps    int
	burst  int
}

func (f *intakeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.enable, "http-intake", false, "Accept text over HTTP POST /ingest into the watched directory")
	cmd.Flags().StringVar(&f.bind, "http-bind", "127.0.0.1:8090", "Bind address for the HTTP intake")
	cmd.Flags().StringVar(&f.token, "http-token", "", "Bearer token required by the HTTP intake (optional)")
	cmd.Flags().IntVar(&f.rps, "http-rps", 10, "Max HTTP intake requests per second")
	cmd.Flags().IntVar(&f.burst, "http-burst", 20, "Burst size for the HTTP intake rate limiter")
}

// start launches the HTTP intake when enabled. It stops with ctx.
func (f *intakeFlags) start(ctx context.Context, dir string, logger *zap.Logger) error {
	if !f.enable {
		return nil
	}
	srv, err := ingest.NewHTTPIntakeServer(ingest.HTTPIntakeOptions{
		Bind:   f.bind,
		Token:  f.token,
		Dir:    dir,
		RPS:    f.rps,
		Burst:  f.burst,
		Logger: logger.Named("intake"),
	})
	if err != nil {
		return fmt.Errorf("http intake init: %w", err)
	}
	return srv.Start(ctx)
}

// watchCmd searches text files as they appear in a directory
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Search text files dropped into a directory",
	Long: `Watch searches every matching file in a directory, then keeps watching it.
*.log files are tailed so only appended text is searched again.

Examples:
  # One-shot: search existing files and exit
  ioc-console watch ./incoming --once

  # Watch and accept pasted text over HTTP as well
  ioc-console watch ./incoming --http-intake --http-token s3cret

  # Only plain text reports
  ioc-console watch ./incoming --pattern "*.txt"`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Search existing files and exit")
	watchCmd.Flags().StringVar(&watchPatterns, "pattern", "*.txt,*.log", "Comma-separated glob patterns to match (e.g. \"*.txt,*.log\")")
	watchCmd.Flags().BoolVar(&watchTail, "tail-from-end", false, "Start *.log files at their end instead of searching existing lines")
	intake.register(watchCmd)
}

func splitPatterns(s string) []string {
	var patterns []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"*.txt", "*.log"}
	}
	return patterns
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := args[0]
	logger := rt.logger.Named("watch")

	if !watchOnce {
		if err := intake.start(ctx, dir, rt.logger); err != nil {
			return err
		}
	}

	loop := refresh.NewLoop(rt.session.Aggregator(), &logPresenter{logger: logger}, refresh.Options{}, logger)
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go loop.Run(loopCtx)

	fi := ingest.NewFolderIngestor(rt.session, ingest.FolderOptions{
		Dir:         dir,
		Watch:       !watchOnce,
		Patterns:    splitPatterns(watchPatterns),
		TailFromEnd: watchTail,
		OnSearched: func(path string, batch *dispatch.Batch) {
			printRecords(os.Stdout, "results in "+path, rt.session.Aggregator().Results())
		},
		Logger: logger,
	})

	logger.Info("starting watch", zap.String("dir", dir), zap.Bool("once", watchOnce))
	if err := fi.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}
	loop.Tick()

	searched, failed := fi.Stats()
	fmt.Printf("Searched %d files (%d failed)\n", searched, failed)
	return nil
}

// logPresenter reports refresh loop output through the logger.
type logPresenter struct {
	logger *zap.Logger

	mu       sync.Mutex
	lastText string
}

func (p *logPresenter) ShowStatus(st refresh.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Level == refresh.LevelError {
		for _, m := range st.Messages {
			p.logger.Warn(strings.TrimSpace(m))
		}
		p.lastText = ""
		return
	}
	if st.Text != p.lastText {
		p.logger.Info(st.Text)
		p.lastText = st.Text
	}
}

func (p *logPresenter) ShowResults(records []results.Record) {
	p.logger.Debug("results updated", zap.Int("count", len(records)))
}
