package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/makt28/mandown/internal/monitor"
	"github.com/makt28/mandown/internal/notify"
	"github.com/makt28/mandown/internal/urlutil"
)

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Probe the http and https variants of a site",
	Long: `Normalize the given URL, probe both scheme variants the way the poll
loop does and print the alert text each one would produce.

Example:
  mandown check example.com
  mandown check https://Example.com:443/path`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var (
	checkTimeout    time.Duration
	checkRetryDelay time.Duration
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "per-attempt probe timeout")
	checkCmd.Flags().DurationVar(&checkRetryDelay, "retry-delay", 500*time.Millisecond, "pause before the second attempt")
}

func runCheck(cmd *cobra.Command, args []string) error {
	httpURL, httpsURL, ok := urlutil.ReadURL(args[0])
	if !ok {
		return fmt.Errorf("invalid URL: %q", args[0])
	}

	logger := setupLogger("warn")
	prober := monitor.NewProber(monitor.NewHTTPTransport("mandown/"+version), checkTimeout, checkRetryDelay, logger)

	out := cmd.OutOrStdout()
	for i, u := range []string{httpURL, httpsURL} {
		if i > 0 {
			fmt.Fprintln(out, "---")
		}
		fmt.Fprintln(out, notify.StatusMessage(u, prober.Probe(cmd.Context(), u)))
	}
	return nil
}
