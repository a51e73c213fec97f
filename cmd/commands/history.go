package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewHistoryCommand returns the history subcommand.
func NewHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent goals from the journal",
		Flags: []cli.Flag{
			gatewayFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum rows",
				Value:   20,
			},
		},
		Action: runHistory,
	}
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	callC, cancel := callCtx(ctx)
	defer cancel()
	goals, err := client.History(callC, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if len(goals) == 0 {
		fmt.Println("No goals recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXECUTOR\tACTION\tSTATUS\tDURATION\tSUBMITTED")
	for _, g := range goals {
		status := g.Status
		if status == "" {
			status = "running"
		}
		dur := "-"
		if g.Duration > 0 {
			dur = fmt.Sprintf("%.1fs", g.Duration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			g.ID, g.Executor, g.Action, status, dur, g.SubmittedAt)
	}
	return w.Flush()
}
