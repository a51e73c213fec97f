package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/sextant-io/sextant/internal/scheduler"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage recurring goals",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List schedule entries",
				Flags:  []cli.Flag{gatewayFlag()},
				Action: runScheduleList,
			},
			{
				Name:  "add",
				Usage: "Add a schedule entry",
				Flags: []cli.Flag{
					gatewayFlag(),
					executorFlag(),
					&cli.StringFlag{
						Name:  "name",
						Usage: "Entry name",
					},
					&cli.StringFlag{
						Name:  "cron",
						Usage: "Cron expression (5 fields)",
					},
					&cli.IntFlag{
						Name:  "every",
						Usage: "Interval in seconds",
					},
					&cli.StringFlag{
						Name:  "on-event",
						Usage: "Fire on a bus event type (e.g. result.emitted)",
					},
					&cli.StringFlag{
						Name:    "action",
						Aliases: []string{"a"},
						Usage:   "Goal action",
					},
					&cli.IntFlag{
						Name:  "vertex",
						Usage: "Target map vertex",
					},
					&cli.IntFlag{
						Name:  "edge",
						Usage: "Target map edge",
					},
					&cli.IntFlag{
						Name:  "cooldown",
						Usage: "Minimum seconds between fires",
					},
					&cli.IntFlag{
						Name:  "max-runs",
						Usage: "Disable after this many fires (0 = unlimited)",
					},
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Schedule entry document (YAML); flags override its fields",
					},
				},
				Action: runScheduleAdd,
			},
			{
				Name:      "rm",
				Usage:     "Remove a schedule entry",
				ArgsUsage: "<entry_id>",
				Flags:     []cli.Flag{gatewayFlag()},
				Action:    runScheduleRemove,
			},
		},
		DefaultCommand: "list",
	}
}

func runScheduleList(ctx context.Context, cmd *cli.Command) error {
	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	callC, cancel := callCtx(ctx)
	defer cancel()
	entries, err := client.Schedules(callC)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No schedule entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tACTION\tEXECUTOR\tRUNS\tENABLED")
	for _, e := range entries {
		target := e.Executor
		if target == "" {
			target = "(default)"
		}
		runs := fmt.Sprintf("%d", e.RunCount)
		if e.MaxRuns > 0 {
			runs = fmt.Sprintf("%d/%d", e.RunCount, e.MaxRuns)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			e.ID, e.Name, triggerOf(e), e.Action, target, runs, e.Enabled)
	}
	return w.Flush()
}

func triggerOf(e *scheduler.ScheduleEntry) string {
	switch {
	case e.CronSpec != "":
		return e.CronSpec
	case e.IntervalSec > 0:
		return fmt.Sprintf("every %ds", e.IntervalSec)
	case e.OnEvent != nil:
		return "on " + e.OnEvent.Event
	}
	return "-"
}

// scheduleDoc is the YAML shape accepted by schedule add -f.
type scheduleDoc struct {
	Name        string            `yaml:"name"`
	Executor    string            `yaml:"executor"`
	Action      string            `yaml:"action"`
	Vertex      int64             `yaml:"vertex"`
	Edge        int64             `yaml:"edge"`
	Cron        string            `yaml:"cron"`
	IntervalSec int               `yaml:"interval_sec"`
	OnEvent     string            `yaml:"on_event"`
	Filter      map[string]string `yaml:"filter"`
	CooldownSec int               `yaml:"cooldown_sec"`
	MaxRuns     int               `yaml:"max_runs"`
}

func runScheduleAdd(ctx context.Context, cmd *cli.Command) error {
	var doc scheduleDoc
	if path := cmd.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read schedule file: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse schedule file: %w", err)
		}
	}

	if cmd.IsSet("name") {
		doc.Name = cmd.String("name")
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
	if cmd.IsSet("cron") {
		doc.Cron = cmd.String("cron")
	}
	if cmd.IsSet("every") {
		doc.IntervalSec = cmd.Int("every")
	}
	if cmd.IsSet("on-event") {
		doc.OnEvent = cmd.String("on-event")
	}
	if cmd.IsSet("cooldown") {
		doc.CooldownSec = cmd.Int("cooldown")
	}
	if cmd.IsSet("max-runs") {
		doc.MaxRuns = cmd.Int("max-runs")
	}

	entry := &scheduler.ScheduleEntry{
		Name:        doc.Name,
		Executor:    doc.Executor,
		Action:      doc.Action,
		Vertex:      doc.Vertex,
		Edge:        doc.Edge,
		CronSpec:    doc.Cron,
		IntervalSec: doc.IntervalSec,
		CooldownSec: doc.CooldownSec,
		MaxRuns:     doc.MaxRuns,
	}
	if doc.OnEvent != "" {
		entry.OnEvent = &scheduler.EventTrigger{Event: doc.OnEvent, Filter: doc.Filter}
	}

	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	callC, cancel := callCtx(ctx)
	defer cancel()
	added, err := client.AddSchedule(callC, entry)
	if err != nil {
		return err
	}

	fmt.Printf("Added schedule %s (%s)\n", added.ID, triggerOf(added))
	return nil
}

func runScheduleRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: sextant schedule rm <entry_id>")
	}

	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	callC, cancel := callCtx(ctx)
	defer cancel()
	if err := client.RemoveSchedule(callC, id); err != nil {
		return err
	}

	fmt.Printf("Removed schedule %s.\n", id)
	return nil
}
