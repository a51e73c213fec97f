package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/sextant-io/sextant/internal/config"
)

// NewConfigCommand returns the config subcommand.
func NewConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Initialize or inspect the sextant configuration",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the sextant home directory and a default config",
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration as JSON",
				Action: runConfigShow,
			},
		},
		DefaultCommand: "show",
	}
}

func runConfigInit(_ context.Context, _ *cli.Command) error {
	root := config.SextantPath()
	created := false

	// Ensure directories exist.
	dirs := []string{
		root,
		filepath.Join(root, "trace"),
		filepath.Join(root, "schedules"),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	// Write default config if missing.
	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Nothing to do: %s is already initialized.\n", root)
		return nil
	}

	fmt.Printf(`
Sextant home ready at %s

Next steps:
  1. Adjust %s (executors, schedules)
  2. Run: sextant serve
  3. Submit a goal: sextant submit --action LOCALIZE_IN_VERTEX --vertex 1
`, root, configPath)
	return nil
}

func runConfigShow(_ context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, showing defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

const defaultConfig = `{
	// Sextant configuration
	// Docs: https://github.com/sextant-io/sextant

	"gateway": {
		"host": "127.0.0.1",
		"port": 17680
	},

	"executors": {
		"default": "main",
		"instances": {
			"main": {
				"strategy": {
					"driver": "sim",
					"options": {
						"slice_ms": 200,
						"slices": 25
					}
				},
				"preempt_grace": "2s"
			}
		}
	},

	"events": {
		"buffer_size": 1024
	},

	"journal": {
		// Goals, transitions, and results land in an SQLite file.
		// "disabled": true
	},

	"metrics": {
		// Prometheus /metrics is served unless disabled.
		// "disabled": true
	}

	// Recurring goals, submitted on a 5-field cron expression:
	// "schedules": [
	// 	{
	// 		"name": "hourly-relocalize",
	// 		"cron": "0 * * * *",
	// 		"action": "LOCALIZE_IN_VERTEX",
	// 		"vertex": 1
	// 	}
	// ]
}
`

const defaultDotenv = `# Sextant environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# SEXTANT_PATH=/var/lib/sextant
`
