// Command agentgatectl is the operator CLI for an agentgate deployment.
// It talks to the same Redis and database the server uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blueberrycongee/agentgate/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentgatectl",
		Short:         "agentgatectl manages an agentgate deployment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the gateway config file")

	load := func() (*config.Config, error) {
		return config.LoadFromFile(configPath)
	}

	root.AddCommand(
		newFingerprintCmd(load),
		newCacheCmd(load),
		newJobsCmd(load),
		newLimitsCmd(load),
		newAgentsCmd(load),
		newProvidersCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)
