package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sextant-io/sextant/internal/config"
	"github.com/sextant-io/sextant/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon liveness and executor states",
		Action: func(_ context.Context, _ *cli.Command) error {
			hbPath := filepath.Join(config.SextantPath(), "heartbeat.json")
			status, hb, err := heartbeat.Check(hbPath, 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Daemon: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
			case heartbeat.StatusStale:
				fmt.Printf("Daemon: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Daemon: NOT RUNNING")
				return nil
			}

			if len(hb.Executors) == 0 {
				return nil
			}

			names := make([]string, 0, len(hb.Executors))
			for name := range hb.Executors {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTOR\tSTATE")
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, hb.Executors[name])
			}
			return w.Flush()
		},
	}
}
