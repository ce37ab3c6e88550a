package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDataCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "export or import the full traceability graph",
	}

	cmd.AddCommand(newDataExportCmd(root))
	cmd.AddCommand(newDataImportCmd(root))

	return cmd
}

func newDataExportCmd(root *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "export Epics, UserStories, Tests, Defects, and EpicDependencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDataExport(cmd, root, output)
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "file to write the export document to (defaults to stdout)")

	return cmd
}

func runDataExport(cmd *cobra.Command, root *rootFlags, output string) error {
	c := newClient(root.daemonURL, root.resolvedAPIKey())

	var doc json.RawMessage
	if err := c.do(cmd.Context(), "GET", "/api/v1/export", nil, &doc); err != nil {
		return err
	}

	if output == "" {
		_, err := cmd.OutOrStdout().Write(doc)

		return err
	}

	return os.WriteFile(output, doc, 0o600)
}

func newDataImportCmd(root *rootFlags) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "replay Epics and EpicDependencies from a prior export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDataImport(cmd, root, input)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "export document to replay (required)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runDataImport(cmd *cobra.Command, root *rootFlags, input string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("rtmctl: read %s: %w", input, err)
	}

	var doc json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("rtmctl: %s is not valid JSON: %w", input, err)
	}

	c := newClient(root.daemonURL, root.resolvedAPIKey())

	var result map[string]int
	if err := c.do(cmd.Context(), "POST", "/api/v1/import", doc, &result); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows\n", result["imported"])

	return nil
}
