package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/sextant-io/sextant/clients/ws"
	"github.com/sextant-io/sextant/internal/events"
)

const defaultGatewayURL = "ws://127.0.0.1:17680/api/ws"

// gatewayFlag is shared by every command that talks to a running daemon.
func gatewayFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "gateway",
		Usage: "Gateway WebSocket URL",
		Value: defaultGatewayURL,
	}
}

// executorFlag names the target executor; empty means the daemon default.
func executorFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "executor",
		Aliases: []string{"e"},
		Usage:   "Target executor (empty = daemon default)",
	}
}

// dialGateway connects to the daemon named by --gateway.
func dialGateway(ctx context.Context, cmd *cli.Command) (*wsclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := wsclient.Dial(dialCtx, cmd.String("gateway"))
	if err != nil {
		return nil, fmt.Errorf("connect to gateway: %w", err)
	}
	return client, nil
}

// callCtx bounds one request/response round trip.
func callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}

// awaitResult blocks until a result for goalID arrives on the event stream.
// The caller must subscribe to result events before submitting the goal, or
// a fast goal can settle unseen.
func awaitResult(ctx context.Context, client *wsclient.Client, goalID string) (events.ResultPayload, error) {
	for {
		select {
		case <-ctx.Done():
			return events.ResultPayload{}, ctx.Err()
		case e, ok := <-client.Events():
			if !ok {
				return events.ResultPayload{}, fmt.Errorf("gateway connection closed")
			}
			if e.Type != events.EventResult {
				continue
			}
			p, ok := events.GetResultPayload(e)
			if !ok || p.GoalID != goalID {
				continue
			}
			return p, nil
		}
	}
}
