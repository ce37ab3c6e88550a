package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type healthStatus struct {
	Status      string `json:"status"`
	ServiceName string `json:"serviceName"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime,omitempty"`
}

func newAdminCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "administrative operations against the daemon",
	}

	cmd.AddCommand(newAdminHealthCheckCmd(root))

	return cmd
}

func newAdminHealthCheckCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health-check",
		Short: "verify the daemon and its Store are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdminHealthCheck(cmd, root)
		},
	}
}

func runAdminHealthCheck(cmd *cobra.Command, root *rootFlags) error {
	c := newClient(root.daemonURL, root.resolvedAPIKey())

	var status healthStatus
	if err := c.do(cmd.Context(), "GET", "/health", nil, &status); err != nil {
		return fmt.Errorf("rtmctl: daemon health check failed: %w", err)
	}

	if err := c.do(cmd.Context(), "GET", "/ready", nil, nil); err != nil {
		return fmt.Errorf("rtmctl: store readiness check failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "healthy: %s v%s (uptime %s)\n", status.ServiceName, status.Version, status.Uptime)

	return nil
}
