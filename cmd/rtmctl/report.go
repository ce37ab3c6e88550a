package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"

	"github.com/spf13/cobra"
)

var errUnsupportedReportFormat = errors.New("rtmctl: --format must be \"json\" or \"html\"")

type matrixRowDTO struct {
	UserStoryID string   `json:"user_story_id"` //nolint:tagliatelle
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Components  []string `json:"components"`
	CoverageGap bool      `json:"coverage_gap"` //nolint:tagliatelle
}

type matrixResponse struct {
	Rows    []matrixRowDTO `json:"rows"`
	Partial bool           `json:"partial"`
}

const reportHTMLTemplate = `<!doctype html>
<html><head><title>Requirements Traceability Matrix</title></head>
<body>
<h1>Requirements Traceability Matrix</h1>
{{if .Partial}}<p><strong>partial: computation was cut short by a deadline</strong></p>{{end}}
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>User Story</th><th>Title</th><th>Status</th><th>Priority</th><th>Coverage</th></tr>
{{range .Rows}}<tr><td>{{.UserStoryID}}</td><td>{{.Title}}</td><td>{{.Status}}</td><td>{{.Priority}}</td><td>{{if .CoverageGap}}uncovered{{else}}covered{{end}}</td></tr>
{{end}}</table>
</body></html>
`

func newReportCmd(root *rootFlags) *cobra.Command {
	var (
		format       string
		epicID       string
		capabilityID string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "render the requirements traceability matrix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, root, format, epicID, capabilityID)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or html")
	cmd.Flags().StringVar(&epicID, "epic", "", "filter by Epic ID")
	cmd.Flags().StringVar(&capabilityID, "capability", "", "filter by Capability ID")

	return cmd
}

func runReport(cmd *cobra.Command, root *rootFlags, format, epicID, capabilityID string) error {
	if format != "json" && format != "html" {
		return errUnsupportedReportFormat
	}

	c := newClient(root.daemonURL, root.resolvedAPIKey())

	query := ""
	if epicID != "" {
		query += "?epic=" + epicID
	}

	if capabilityID != "" {
		if query == "" {
			query = "?capability=" + capabilityID
		} else {
			query += "&capability=" + capabilityID
		}
	}

	var resp matrixResponse
	if err := c.do(cmd.Context(), "GET", "/api/v1/matrix"+query, nil, &resp); err != nil {
		return err
	}

	switch format {
	case "html":
		tmpl := template.Must(template.New("report").Parse(reportHTMLTemplate))
		if err := tmpl.Execute(cmd.OutOrStdout(), resp); err != nil {
			return fmt.Errorf("rtmctl: render html report: %w", err)
		}
	default:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("rtmctl: render json report: %w", err)
		}
	}

	if resp.Partial {
		os.Exit(exitWarning)
	}

	return nil
}
