package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
)

// NewSubmitCommand returns the submit subcommand.
func NewSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a goal and stream feedback until it settles",
		Flags: []cli.Flag{
			gatewayFlag(),
			executorFlag(),
			&cli.StringFlag{
				Name:    "action",
				Aliases: []string{"a"},
				Usage:   "Goal action (e.g. LOCALIZE_IN_VERTEX)",
			},
			&cli.IntFlag{
				Name:  "vertex",
				Usage: "Target map vertex",
			},
			&cli.IntFlag{
				Name:  "edge",
				Usage: "Target map edge",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Goal document (YAML); flags override its fields",
			},
			&cli.BoolFlag{
				Name:    "detach",
				Aliases: []string{"d"},
				Usage:   "Print the goal ID and exit without waiting",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Give up after this many seconds (0 = wait until the goal settles)",
			},
		},
		Action: runSubmit,
	}
}

// goalDoc is the YAML shape accepted by submit -f.
type goalDoc struct {
	Executor    string         `yaml:"executor"`
	Action      string         `yaml:"action"`
	Vertex      int64          `yaml:"vertex"`
	Edge        int64          `yaml:"edge"`
	DescriptorA *descriptorDoc `yaml:"descriptor_a"`
	DescriptorB *descriptorDoc `yaml:"descriptor_b"`
}

type descriptorDoc struct {
	ObjectID     int64  `yaml:"object_id"`
	DescriptorID int64  `yaml:"descriptor_id"`
	Interface    string `yaml:"interface_name"`
}

func (d *descriptorDoc) link() *executor.DescriptorLink {
	if d == nil {
		return nil
	}
	return &executor.DescriptorLink{
		ObjectID:     d.ObjectID,
		DescriptorID: d.DescriptorID,
		Interface:    d.Interface,
	}
}

// goalFromCommand assembles the goal from -f and/or flags.
func goalFromCommand(cmd *cli.Command) (string, executor.Goal, error) {
	var doc goalDoc
	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", executor.Goal{}, fmt.Errorf("read goal file: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return "", executor.Goal{}, fmt.Errorf("parse goal file: %w", err)
		}
	}

	if cmd.IsSet("executor") {
		doc.Executor = cmd.String("executor")
	}
	if cmd.IsSet("action") {
		doc.Action = cmd.String("action")
	}
	if cmd.IsSet("vertex") {
		doc.Vertex = int64(cmd.Int("vertex"))
	}
	if cmd.IsSet("edge") {
		doc.Edge = int64(cmd.Int("edge"))
	}

	if doc.Action == "" {
		return "", executor.Goal{}, fmt.Errorf("an action is required (--action or -f)")
	}

	g := executor.Goal{
		Action:      executor.Action(doc.Action),
		Vertex:      doc.Vertex,
		Edge:        doc.Edge,
		DescriptorA: doc.DescriptorA.link(),
		DescriptorB: doc.DescriptorB.link(),
	}
	if err := g.Validate(); err != nil {
		return "", executor.Goal{}, err
	}
	return doc.Executor, g, nil
}

func runSubmit(ctx context.Context, cmd *cli.Command) error {
	executorName, g, err := goalFromCommand(cmd)
	if err != nil {
		return err
	}

	if secs := cmd.Int("timeout"); secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	detach := cmd.Bool("detach")
	if !detach {
		// Subscribe before submitting so a fast goal cannot settle unseen.
		subCtx, cancel := callCtx(ctx)
		err := client.Subscribe(subCtx, string(events.EventFeedback), string(events.EventResult))
		cancel()
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	submitCtx, cancel := callCtx(ctx)
	goalID, err := client.Submit(submitCtx, executorName, g)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "goal: %s\n", goalID)

	if detach {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for goal %s", goalID)
		case e, ok := <-client.Events():
			if !ok {
				return fmt.Errorf("gateway connection closed")
			}
			switch e.Type {
			case events.EventFeedback:
				p, ok := events.GetFeedbackPayload(e)
				if !ok || p.GoalID != goalID {
					continue
				}
				line := fmt.Sprintf("  %6.1fs  %3.0f%%", p.TimeElapsed, p.Completion*100)
				if p.Message != "" {
					line += "  " + p.Message
				}
				fmt.Println(line)
			case events.EventResult:
				p, ok := events.GetResultPayload(e)
				if !ok || p.GoalID != goalID {
					continue
				}
				return printResult(p)
			}
		}
	}
}

// printResult reports the terminal result. A preempted goal is not a CLI
// failure: its context is saved daemon-side and `sextant resume` finishes it.
func printResult(p events.ResultPayload) error {
	switch executor.Status(p.Status) {
	case executor.StatusSuccess:
		fmt.Printf("%s: success (%.1fs)\n", p.Action, p.Duration)
		return nil
	case executor.StatusPreempted:
		fmt.Printf("%s: preempted (%s); resume with `sextant resume`\n", p.Action, p.Reason)
		return nil
	default:
		return fmt.Errorf("%s: %s (%s)", p.Action, p.Status, p.Reason)
	}
}
