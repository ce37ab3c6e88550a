package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const rtmctlVersion = "1.0.0-dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the rtmctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rtmctl v%s\n", rtmctlVersion)

			return nil
		},
	}
}
