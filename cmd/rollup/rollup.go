package rollup

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fia-cloud/fia/cmd/cli"
	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Cmd is the parent command for anomaly rollup operations.
var Cmd = &cobra.Command{
	Use:   "rollup",
	Short: "Inspect and persist daily anomaly rollups",
}

var (
	server  string
	day     string
	timeout time.Duration
)

var showCmd = &cobra.Command{
	Use:     "show <day>",
	Short:   "Print the persisted rollup for a day",
	Example: "fia rollup show 2026-10-15",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := cli.Engine()
		if err != nil {
			return err
		}

		row, err := eng.Rollup.Get(cli.Context(cmd), args[0])
		if err != nil {
			return errors.Wrapf(err, "rollup %s", args[0])
		}
		return cli.PrintJSON(cmd, row)
	},
}

// Counters are buffered inside the serving process, so flushing goes
// through its API rather than the database.
var flushCmd = &cobra.Command{
	Use:     "flush",
	Short:   "Ask a running fia instance to persist a day's anomaly rollup",
	Example: "fia rollup flush --server http://localhost:8080",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := day
		if key == "" {
			key = time.Now().In(env.Variables().Timezone.Get()).Format("2006-01-02")
		}

		base := server
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", env.Variables().Port)
		}

		url := fmt.Sprintf("%s/v1/rollups/%s/flush", strings.TrimSuffix(base, "/"), key)
		req, err := http.NewRequestWithContext(cli.Context(cmd), http.MethodPost, url, nil)
		if err != nil {
			return err
		}

		resp, err := (&http.Client{Timeout: timeout}).Do(req)
		if err != nil {
			return errors.Wrap(err, "flush request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("flush %s: unexpected status %s", key, resp.Status)
		}

		var summary anomaly.Summary
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			return errors.Wrap(err, "decode flush response")
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Flushed rollup for %s (%d anomalies)\n", summary.Day, summary.Total)
		return err
	},
}

func init() {
	flushCmd.Flags().StringVar(&server, "server", "", "Base URL of the running fia API (default http://localhost:$FIA_PORT)")
	flushCmd.Flags().StringVar(&day, "day", "", "Day key (YYYY-MM-DD), defaults to today")
	flushCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout")
	Cmd.AddCommand(showCmd, flushCmd)
}
