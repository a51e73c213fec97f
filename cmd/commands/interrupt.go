package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

// NewInterruptCommand returns the interrupt subcommand.
func NewInterruptCommand() *cli.Command {
	return &cli.Command{
		Name:  "interrupt",
		Usage: "Interrupt the active goal, saving its context for resume",
		Flags: []cli.Flag{
			gatewayFlag(),
			executorFlag(),
		},
		Action: runInterrupt,
	}
}

func runInterrupt(ctx context.Context, cmd *cli.Command) error {
	ack, err := runControl(ctx, cmd, func(c controlClient, callC context.Context) (string, error) {
		return c.Interrupt(callC, cmd.String("executor"))
	})
	if err != nil {
		return err
	}
	fmt.Println(ack)
	return nil
}

// controlClient is the slice of the WS client the control commands use.
type controlClient interface {
	Interrupt(ctx context.Context, executorName string) (string, error)
	Resume(ctx context.Context, executorName string) (string, error)
}

// runControl submits a control goal and waits for its acknowledgement
// result. The ack reason carries the human-readable outcome ("interrupted
// goal <id>", "nothing to interrupt", "resuming goal <id>").
func runControl(ctx context.Context, cmd *cli.Command, call func(controlClient, context.Context) (string, error)) (string, error) {
	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return "", err
	}
	defer client.Close()

	subCtx, cancel := callCtx(ctx)
	err = client.Subscribe(subCtx, string(events.EventResult))
	cancel()
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}

	callC, cancel := callCtx(ctx)
	ctrlID, err := call(client, callC)
	cancel()
	if err != nil {
		return "", err
	}

	// Interruption waits for the active hook to wind down, so give the ack
	// more room than a plain round trip.
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	p, err := awaitResult(waitCtx, client, ctrlID)
	if err != nil {
		return "", fmt.Errorf("await acknowledgement: %w", err)
	}
	if executor.Status(p.Status) != executor.StatusSuccess {
		return "", fmt.Errorf("%s", p.Reason)
	}
	return p.Reason, nil
}
