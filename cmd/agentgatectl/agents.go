package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/agent"
)

func newAgentsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect agent definitions",
	}

	var dir string
	registry := func() (*agent.Registry, error) {
		if dir != "" {
			return agent.NewRegistry(dir, slog.Default()), nil
		}
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		return agent.NewRegistry(cfg.Agents.Dir, slog.Default()), nil
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "agents directory (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loadable agent definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry()
			if err != nil {
				return err
			}
			agents, err := reg.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPROVIDER\tMODEL\tDESCRIPTION")
			for _, a := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Provider, a.Model, a.Description)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print one agent definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry()
			if err != nil {
				return err
			}
			a, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	})
	return cmd
}
