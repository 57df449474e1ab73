package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/config"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
)

// openLimiter builds a limiter over the same state the server uses.
func openLimiter(cmd *cobra.Command, cfg *config.Config) (*ratelimit.Limiter, func(), error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		states := ratelimit.NewRedisStore(client, cfg.Cache.Namespace)
		return ratelimit.New(states, cfg.RateLimit), func() { _ = client.Close() }, nil
	case "sql":
		st, err := openStore(cmd, cfg)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.New(st, cfg.RateLimit), func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("rate limit backend %q is not shared with the server", cfg.RateLimit.Backend)
	}
}

func newLimitsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Inspect and change per-client rate limits",
	}

	var limits ratelimit.Limits
	setCmd := &cobra.Command{
		Use:   "set <client>",
		Short: "Set a client's RPM and TPM ceilings; an omitted flag keeps the current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limits.RPM < 0 || limits.TPM < 0 || limits.RPM+limits.TPM == 0 {
				return fmt.Errorf("set a positive --rpm, --tpm or both")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			limiter, closeFn, err := openLimiter(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			state, err := limiter.SetLimits(cmd.Context(), args[0], limits)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
	setCmd.Flags().IntVar(&limits.RPM, "rpm", 0, "requests per minute")
	setCmd.Flags().IntVar(&limits.TPM, "tpm", 0, "tokens per minute")

	getCmd := &cobra.Command{
		Use:   "get <client>",
		Short: "Print a client's current window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			limiter, closeFn, err := openLimiter(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			state, err := limiter.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.AddCommand(setCmd, getCmd)
	return cmd
}
