package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type syncResponse struct {
	ItemsProcessed           int      `json:"items_processed"`            //nolint:tagliatelle
	UserStoriesCreated       int      `json:"user_stories_created"`       //nolint:tagliatelle
	UserStoriesUpdated       int      `json:"user_stories_updated"`       //nolint:tagliatelle
	DefectsCreated           int      `json:"defects_created"`            //nolint:tagliatelle
	DefectsUpdated           int      `json:"defects_updated"`            //nolint:tagliatelle
	EpicItemsSkipped         int      `json:"epic_items_skipped"`         //nolint:tagliatelle
	UnrecognizedStatusLabels []string `json:"unrecognized_status_labels"` //nolint:tagliatelle
	Errors                   []string `json:"errors,omitempty"`
}

func newSyncCmd(root *rootFlags) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "trigger a tracker synchronization run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, root, full)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "run a full reconciliation instead of an incremental one")

	return cmd
}

func runSync(cmd *cobra.Command, root *rootFlags, full bool) error {
	c := newClient(root.daemonURL, root.resolvedAPIKey())

	mode := "incremental"
	if full {
		mode = "full"
	}

	var resp syncResponse
	if err := c.do(cmd.Context(), "POST", "/api/v1/sync", map[string]string{"mode": mode}, &resp); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"items_processed=%d user_stories(created=%d,updated=%d) defects(created=%d,updated=%d) skipped=%d errors=%d\n",
		resp.ItemsProcessed, resp.UserStoriesCreated, resp.UserStoriesUpdated,
		resp.DefectsCreated, resp.DefectsUpdated, resp.EpicItemsSkipped, len(resp.Errors),
	)

	for _, label := range resp.UnrecognizedStatusLabels {
		fmt.Fprintln(cmd.OutOrStderr(), "unrecognized status label:", label)
	}

	for _, e := range resp.Errors {
		fmt.Fprintln(cmd.OutOrStderr(), "sync error:", e)
	}

	if len(resp.Errors) > 0 || len(resp.UnrecognizedStatusLabels) > 0 {
		os.Exit(exitWarning)
	}

	return nil
}
