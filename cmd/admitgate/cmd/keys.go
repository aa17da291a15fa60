package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/admitgate/internal/adapter/outbound/fallback"
	"github.com/Sentinel-Gate/admitgate/internal/config"
	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/admitgate/internal/service"
)

var (
	keysListPattern  string
	keysPurgePattern string
	keysLimit        int
	keysSample       int
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect or purge rate limit counters",
	Long: `Inspect or purge the per-client counters held in the durable store.

These commands connect to the Redis instance named by store.redis_url (or
REDIS_URL). Without one they can only see their own empty in-memory store;
use the admin API of the running server instead.

Patterns use glob syntax over "{tier}:{client}" keys, e.g. "auth:*".`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List counter keys matching a pattern",
	Example: `  admitgate keys list
  admitgate keys list --pattern 'auth:*' --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvalidation(cmd, func(ctx context.Context, svc *service.InvalidationService) error {
			keys, total, err := svc.ListKeys(ctx, keysListPattern, keysLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			if total > len(keys) {
				fmt.Fprintf(cmd.ErrOrStderr(), "... %d of %d keys shown\n", len(keys), total)
			}
			return nil
		})
	},
}

var keysPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every counter key matching a pattern",
	Long: `Delete every counter matching --pattern, resetting those clients'
windows. The pattern is required; use '*' to reset everything.`,
	Example: `  admitgate keys purge --pattern 'auth:203.0.113.7'
  admitgate keys purge --pattern '*'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvalidation(cmd, func(ctx context.Context, svc *service.InvalidationService) error {
			deleted, err := svc.DeleteByPattern(ctx, keysPurgePattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d keys matching %q\n", deleted, keysPurgePattern)
			return nil
		})
	},
}

var keysStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the key count and a sample of keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInvalidation(cmd, func(ctx context.Context, svc *service.InvalidationService) error {
			stats, err := svc.Stats(ctx, keysSample)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		})
	},
}

func init() {
	keysListCmd.Flags().StringVar(&keysListPattern, "pattern", "*", "glob pattern to match")
	keysListCmd.Flags().IntVar(&keysLimit, "limit", 100, "maximum keys to print (0 for all)")

	keysPurgeCmd.Flags().StringVar(&keysPurgePattern, "pattern", "", "glob pattern to delete (required)")
	_ = keysPurgeCmd.MarkFlagRequired("pattern")

	keysStatsCmd.Flags().IntVar(&keysSample, "sample", service.DefaultSampleSize, "number of sample keys to include")

	keysCmd.AddCommand(keysListCmd, keysPurgeCmd, keysStatsCmd)
	rootCmd.AddCommand(keysCmd)
}

// withInvalidation opens the configured store, runs fn, and closes the store.
func withInvalidation(cmd *cobra.Command, fn func(context.Context, *service.InvalidationService) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := fallback.NewFromConfig(storeConfig(cfg.Store), logger)
	if err != nil {
		return fmt.Errorf("failed to create counter store: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store.Connect(ctx)
	if store.Mode() == ratelimit.ModeEphemeral {
		logger.Warn("no durable store connected: the in-memory store is local to this process and does not reflect a running server",
			"state", store.State().String())
	}

	return fn(ctx, service.NewInvalidationService(store, nil, logger.With(slog.String("command", cmd.Name()))))
}
