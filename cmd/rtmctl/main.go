// Package main provides rtmctl, the thin CLI wrapper over rtmd (§6.4): scan,
// sync, report, admin health-check, and data export/import, each a single
// HTTP request against the daemon's API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gonogo/rtm/internal/config"
)

func main() {
	rootCmd := newRootCmd()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}

func apiKeyFromEnv() string {
	return config.GetEnvStr("RTM_API_KEY", "")
}
