package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/config"
)

// openCache connects to the shared cache. The memory backend lives inside
// the server process and cannot be reached from here.
func openCache(cfg *config.Config) (*cache.Store, func(), error) {
	if !cfg.Cache.Enabled || cfg.Cache.Backend != cache.BackendRedis {
		return nil, nil, fmt.Errorf("cache backend %q is not shared; use DELETE /cache on the server", cfg.Cache.Backend)
	}
	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	backend := cache.NewRedisBackend(client)
	store := cache.NewStore(backend, cfg.Cache, slog.Default())
	return store, func() { _ = backend.Close() }, nil
}

func newCacheCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}

	var pattern string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached results matching a pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, closeFn, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("cache unreachable: %w", err)
			}
			effective := pattern
			if effective == "" {
				effective = cache.DefaultClearPattern(cfg.Cache.Namespace)
			}
			n := store.Clear(cmd.Context(), pattern)
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries matching %s\n", n, effective)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&pattern, "pattern", "", "glob pattern (default: every entry in the namespace)")

	cmd.AddCommand(clearCmd)
	return cmd
}
