package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/sextant-io/sextant/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sextant",
		Usage: "Localization executor daemon and client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewSubmitCommand(),
			NewInterruptCommand(),
			NewResumeCommand(),
			NewStatusCommand(),
			NewHistoryCommand(),
			NewScheduleCommand(),
			NewConfigCommand(),
		},
	}
}
