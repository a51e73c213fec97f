// Package strategy provides the built-in localization strategies and the
// factory that constructs them from configuration.
package strategy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sextant-io/sextant/internal/config"
	"github.com/sextant-io/sextant/internal/executor"
)

// Create builds a strategy from its driver config. name is the executor
// instance the strategy will serve, used for logging.
func Create(name string, cfg config.StrategyConfig, logger *slog.Logger) (executor.Strategy, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sim":
		return NewSim(name, cfg.Options, logger), nil
	case "static":
		return NewStatic(name, cfg.Options, logger), nil
	default:
		return nil, fmt.Errorf("unknown strategy driver: %s", cfg.Driver)
	}
}

// optInt reads an integer option, tolerating the float64 that JSON decoding
// produces for numbers.
func optInt(opts map[string]any, key string, def int64) int64 {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return def
}

// optFloat reads a float option.
func optFloat(opts map[string]any, key string, def float64) float64 {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
