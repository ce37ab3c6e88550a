package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type scanResponse struct {
	Discovered       int      `json:"discovered"`
	Created          int      `json:"created"`
	Updated          int      `json:"updated"`
	Orphaned         int      `json:"orphaned"`
	Reactivated      int      `json:"reactivated"`
	AnnotationErrors []string `json:"annotation_errors,omitempty"` //nolint:tagliatelle
}

func newScanCmd(root *rootFlags) *cobra.Command {
	var rootPath string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "trigger a source scan for test annotations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, root, rootPath)
		},
	}

	cmd.Flags().StringVar(&rootPath, "root", ".", "source tree root to scan")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootFlags, rootPath string) error {
	c := newClient(root.daemonURL, root.resolvedAPIKey())

	var resp scanResponse
	if err := c.do(cmd.Context(), "POST", "/api/v1/scan", map[string]string{"root": rootPath}, &resp); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"discovered=%d created=%d updated=%d orphaned=%d reactivated=%d errors=%d\n",
		resp.Discovered, resp.Created, resp.Updated, resp.Orphaned, resp.Reactivated, len(resp.AnnotationErrors),
	)

	for _, e := range resp.AnnotationErrors {
		fmt.Fprintln(cmd.OutOrStderr(), "annotation error:", e)
	}

	if len(resp.AnnotationErrors) > 0 {
		os.Exit(exitWarning)
	}

	return nil
}
