package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/ioc-console/internal/bus"
)

var (
	feedGroup    string
	feedConsumer string
	feedStats    bool
)

// feedCmd tails the results stream published by every console
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Tail lookup results published to Redis",
	Long: `Feed follows the ioc:results stream that every console writing to the
same Redis publishes accepted lookup results to. Consumers sharing a group
split the stream between them.

Examples:
  ioc-console feed --redis redis://localhost:6379
  ioc-console feed --redis redis://localhost:6379 --group soc --consumer desk-2`,
	RunE: runFeed,
}

func init() {
	rootCmd.AddCommand(feedCmd)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "ioc-console"
	}
	feedCmd.Flags().StringVar(&feedGroup, "group", "ioc-console-feed", "Consumer group name")
	feedCmd.Flags().StringVar(&feedConsumer, "consumer", hostname, "Consumer name within the group")
	feedCmd.Flags().BoolVar(&feedStats, "stats", false, "Print feed statistics and exit")
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Redis.URL == "" {
		return fmt.Errorf("the results feed needs Redis: set --redis or redis.url")
	}
	feed := bus.NewBus(cfg.Redis.URL, logger.Named("bus"))
	defer feed.Close()

	if err := feed.HealthCheck(ctx); err != nil {
		return fmt.Errorf("results feed unavailable: %w", err)
	}

	if feedStats {
		stats, err := feed.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read feed stats: %w", err)
		}
		for k, v := range stats {
			fmt.Printf("%s: %v\n", k, v)
		}
		return nil
	}

	err = feed.ReadResults(ctx, feedGroup, feedConsumer, func(_ context.Context, msg bus.ResultMessage) error {
		at := time.Unix(msg.Timestamp, 0).Format("15:04:05")
		fmt.Printf("%s %-10s %-8s %s", at, msg.Service, msg.Kind, msg.Record.Value)
		if msg.Record.Info != "" {
			fmt.Printf("  %s", msg.Record.Info)
		}
		fmt.Println()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
