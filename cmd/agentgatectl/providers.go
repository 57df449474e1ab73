package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/provider"
)

func newProvidersCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage stored provider configuration records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List provider records, active first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListProviderConfigs(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tACTIVE\tAPI URL")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", rec.ID, rec.Name, rec.Type, rec.Active, rec.APIURL)
			}
			return tw.Flush()
		},
	})

	var (
		rec      provider.Record
		inactive bool
	)
	setCmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider record; an active record replaces the current one",
		Long: "Store a provider record; an active record replaces the current one.\n\n" +
			"--api-key accepts a literal key or a secret reference such as env://NAME or vault://path#field.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, normalized, ok := provider.Normalize(args[0])
			if !ok {
				return fmt.Errorf("unsupported provider %q", normalized)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rec.Type = t
			rec.Active = !inactive
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			if rec.Name == "" {
				rec.Name = string(t)
			}
			if err := st.UpsertProviderConfig(cmd.Context(), &rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s record %s (active=%t)\n", t, rec.ID, rec.Active)
			return nil
		},
	}
	flags := setCmd.Flags()
	flags.StringVar(&rec.ID, "id", "", "record id (default: new uuid)")
	flags.StringVar(&rec.Name, "name", "", "display name")
	flags.StringVar(&rec.APIKey, "api-key", "", "API key or secret reference")
	flags.StringVar(&rec.APIURL, "api-url", "", "base URL override")
	flags.StringVar(&rec.OrganizationID, "org", "", "organization id")
	flags.BoolVar(&inactive, "inactive", false, "store without activating")

	cmd.AddCommand(setCmd)
	return cmd
}
