package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewResumeCommand returns the resume subcommand.
func NewResumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume the interrupted goal from its saved context",
		Flags: []cli.Flag{
			gatewayFlag(),
			executorFlag(),
		},
		Action: runResume,
	}
}

func runResume(ctx context.Context, cmd *cli.Command) error {
	ack, err := runControl(ctx, cmd, func(c controlClient, callC context.Context) (string, error) {
		return c.Resume(callC, cmd.String("executor"))
	})
	if err != nil {
		return err
	}
	fmt.Println(ack)
	return nil
}
