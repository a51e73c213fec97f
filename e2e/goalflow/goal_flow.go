// Command goal_flow exercises the full goal lifecycle via WS.
//
// It connects to a running sextant gateway, submits a localization goal,
// waits for streamed feedback, interrupts the goal mid-flight, resumes it,
// and verifies that the final result settles under the original goal ID.
//
// Usage: goal_flow -gateway ws://127.0.0.1:PORT/api/ws -vertex 9
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	wsclient "github.com/sextant-io/sextant/clients/ws"
	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

func main() {
	gatewayURL := flag.String("gateway", "ws://127.0.0.1:17680/api/ws", "Gateway WS URL")
	executorName := flag.String("executor", "", "Target executor (empty = daemon default)")
	vertex := flag.Int64("vertex", 9, "Map vertex to localize in")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *gatewayURL, *executorName, *vertex); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, gatewayURL, executorName string, vertex int64) error {
	// ── Step 1: Connect and subscribe to the lifecycle stream ───────────
	client, err := wsclient.Dial(ctx, gatewayURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	err = client.Subscribe(ctx,
		string(events.EventFeedback),
		string(events.EventResult),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	fmt.Println("CHECK connected and subscribed")

	// ── Step 2: Submit a localization goal ───────────────────────────────
	goalID, err := client.Submit(ctx, executorName, executor.Goal{
		Action: executor.ActionLocalizeInVertex,
		Vertex: vertex,
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Printf("CHECK goal accepted: %s\n", goalID)

	// ── Step 3: Wait for streamed feedback ───────────────────────────────
	// Two updates prove the run is live and mid-flight, whatever the
	// strategy's slice cadence.
	seen := 0
	for seen < 2 {
		e, err := nextEvent(ctx, client)
		if err != nil {
			return fmt.Errorf("waiting for feedback: %w", err)
		}
		if e.Type != events.EventFeedback {
			continue
		}
		p, ok := events.GetFeedbackPayload(e)
		if !ok || p.GoalID != goalID {
			continue
		}
		seen++
	}
	fmt.Println("CHECK feedback streaming")

	// ── Step 4: Interrupt mid-flight ─────────────────────────────────────
	ctrlID, err := client.Interrupt(ctx, executorName)
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}

	// The preempted result for our goal and the ack for the control goal
	// both arrive; order between them is not guaranteed.
	var preempted, acked bool
	for !preempted || !acked {
		p, err := nextResult(ctx, client)
		if err != nil {
			return fmt.Errorf("waiting for interruption: %w", err)
		}
		switch p.GoalID {
		case goalID:
			if p.Status != string(executor.StatusPreempted) {
				return fmt.Errorf("goal %s settled as %q before the interrupt ack", goalID, p.Status)
			}
			preempted = true
			fmt.Printf("CHECK goal preempted: %s\n", p.Reason)
		case ctrlID:
			if p.Status != string(executor.StatusSuccess) {
				return fmt.Errorf("interrupt refused: %s", p.Reason)
			}
			if !strings.Contains(p.Reason, goalID) {
				return fmt.Errorf("interrupt ack names %q, want %s", p.Reason, goalID)
			}
			acked = true
			fmt.Printf("CHECK interrupt acknowledged: %s\n", p.Reason)
		}
	}

	// ── Step 5: Resume from the saved context ────────────────────────────
	resumeID, err := client.Resume(ctx, executorName)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	for {
		p, err := nextResult(ctx, client)
		if err != nil {
			return fmt.Errorf("waiting for resume ack: %w", err)
		}
		if p.GoalID != resumeID {
			continue
		}
		if p.Status != string(executor.StatusSuccess) {
			return fmt.Errorf("resume refused: %s", p.Reason)
		}
		fmt.Printf("CHECK resume acknowledged: %s\n", p.Reason)
		break
	}

	// ── Step 6: The original goal settles under its own ID ───────────────
	for {
		p, err := nextResult(ctx, client)
		if err != nil {
			return fmt.Errorf("waiting for final result: %w", err)
		}
		if p.GoalID != goalID {
			continue
		}
		if p.Status != string(executor.StatusSuccess) {
			return fmt.Errorf("goal settled as %q: %s", p.Status, p.Reason)
		}
		fmt.Printf("CHECK goal settled under original ID (%.1fs)\n", p.Duration)
		break
	}

	fmt.Println("PASS")
	return nil
}

// nextEvent pulls one event off the stream, honoring the overall timeout.
func nextEvent(ctx context.Context, client *wsclient.Client) (events.Event, error) {
	select {
	case <-ctx.Done():
		return events.Event{}, fmt.Errorf("timeout")
	case e, ok := <-client.Events():
		if !ok {
			return events.Event{}, fmt.Errorf("connection closed")
		}
		return e, nil
	}
}

// nextResult pulls events until a result arrives.
func nextResult(ctx context.Context, client *wsclient.Client) (events.ResultPayload, error) {
	for {
		e, err := nextEvent(ctx, client)
		if err != nil {
			return events.ResultPayload{}, err
		}
		if e.Type != events.EventResult {
			continue
		}
		p, ok := events.GetResultPayload(e)
		if !ok {
			continue
		}
		return p, nil
	}
}
