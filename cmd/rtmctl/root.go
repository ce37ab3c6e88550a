package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	daemonURL string
	apiKey    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "rtmctl",
		Short:         "rtmctl drives the RTM engine daemon: scan, sync, report, and admin operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.daemonURL, "daemon-url", "http://127.0.0.1:8420", "base URL of the rtmd daemon")
	cmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", "", "API key presented to the daemon (defaults to RTM_API_KEY)")

	cmd.AddCommand(newScanCmd(flags))
	cmd.AddCommand(newSyncCmd(flags))
	cmd.AddCommand(newReportCmd(flags))
	cmd.AddCommand(newAdminCmd(flags))
	cmd.AddCommand(newDataCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (f *rootFlags) resolvedAPIKey() string {
	if f.apiKey != "" {
		return f.apiKey
	}

	return apiKeyFromEnv()
}
