package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/config"
	"github.com/blueberrycongee/agentgate/internal/store"
)

// openStore opens the configured database. The memory driver is private to
// the server process.
func openStore(cmd *cobra.Command, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == store.DriverMemory || cfg.Store.Driver == "" {
		return nil, fmt.Errorf("store driver %q is not shared with the server", cfg.Store.Driver)
	}
	return store.Open(cmd.Context(), cfg.Store)
}

func newJobsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect job records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print one job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.GetJob(cmd.Context(), args[0])
			if store.IsNotFound(err) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	})
	return cmd
}
