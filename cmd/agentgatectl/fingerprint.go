package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/provider"
)

func newFingerprintCmd(load configLoader) *cobra.Command {
	var (
		in        cache.FingerprintInput
		params    []string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the cache key an execution request maps to",
		Long: "Print the cache key an execution request maps to.\n\n" +
			"--user is the identity the gateway accounts against: the X-Client-ID\n" +
			"header when one is sent, the request's user_id otherwise.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if namespace == "" {
				namespace = cache.DefaultNamespace
				if cfg, err := load(); err == nil {
					namespace = cfg.Cache.Namespace
				}
			}

			_, in.Provider, _ = provider.Normalize(in.Provider)

			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			in.Parameters = parsed

			key, err := cache.Fingerprint(namespace, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&in.AgentName, "agent", "", "agent name")
	flags.StringVar(&in.Provider, "provider", "", "provider name, any accepted spelling")
	flags.StringVar(&in.Model, "model", "", "model name")
	flags.StringVar(&in.UserID, "user", "", "client or user id")
	flags.StringVar(&in.Message, "message", "", "message text")
	flags.StringArrayVar(&params, "param", nil, "parameter as key=value, repeatable; JSON values are decoded")
	flags.StringVar(&namespace, "namespace", "", "cache namespace (default from config)")
	for _, name := range []string{"agent", "provider", "model", "message"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// parseParams turns key=value pairs into a parameter map. Values that parse
// as JSON (numbers, booleans, objects) keep their type so the key matches
// what a JSON request body would produce.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		var decoded any
		if err := cache.UnmarshalNumbers([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}
