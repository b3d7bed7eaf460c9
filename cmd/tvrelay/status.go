package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeremyward/tvrelay/internal/server"
)

var statusOpts struct {
	jsonOut bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's display queue and counters",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOpts.jsonOut, "json", false,
		"Print the raw status JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, globalOpts.server+"/status", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", globalOpts.server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var st server.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}

	if statusOpts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	printStatus(st)
	return nil
}

func printStatus(st server.Status) {
	fmt.Printf("%s %s, up since %s (%s)\n",
		st.Service, st.Version, humanize.Time(st.StartedAt), st.Uptime)

	state := st.Scheduler.State
	if st.Scheduler.ActiveTitle != "" {
		state = fmt.Sprintf("%s (%q)", state, st.Scheduler.ActiveTitle)
	}
	fmt.Printf("overlay:  %s\n", state)
	fmt.Printf("queued:   %d waiting, %d buffered for merge\n",
		st.Scheduler.QueueDepth, st.MergePending)

	fmt.Printf("events:   %s received, %s rejected, %s filtered\n",
		humanize.Comma(int64(st.Received)),
		humanize.Comma(int64(st.Rejected)),
		humanize.Comma(int64(st.Filtered)))
	fmt.Printf("shown:    %s overlays, %s evicted\n",
		humanize.Comma(int64(st.Scheduler.Shown)),
		humanize.Comma(int64(st.Scheduler.Evicted)))

	if st.Scheduler.MediaFailures > 0 || st.Scheduler.SinkFailures > 0 {
		fmt.Printf("failures: %d media, %d sink\n",
			st.Scheduler.MediaFailures, st.Scheduler.SinkFailures)
	}
}
