package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Reloader provides hot config reload with atomic swap and listener
// notification. A failed reload leaves the previous config in place.
type Reloader struct {
	configPath string
	dotenvPath string
	current    atomic.Pointer[Config]
	mu         sync.Mutex // serializes reload
	listeners  []func(*Config)
}

// NewReloader creates a Reloader with the given initial config.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
	}
	r.current.Store(initial)
	return r
}

// Current returns the current config (lock-free atomic read).
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers a callback invoked after each successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads the .env file, reloads the config, and notifies listeners.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return fmt.Errorf("reload dotenv: %w", err)
	}

	cfg, err := Load(r.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	r.current.Store(cfg)
	slog.Info("config reloaded", "path", r.configPath)

	for _, fn := range r.listeners {
		fn(cfg)
	}
	return nil
}

// Watch polls the config and .env files at interval and reloads when either
// changes. It blocks until ctx is canceled; a failed reload is logged and the
// previous config stays in place.
func (r *Reloader) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := r.mtimes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := r.mtimes()
			if cur == last {
				continue
			}
			last = cur
			if err := r.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		}
	}
}

// mtimes fingerprints the watched files. A missing file stamps as zero, so a
// file appearing later still counts as a change.
func (r *Reloader) mtimes() [2]time.Time {
	var ts [2]time.Time
	if fi, err := os.Stat(r.configPath); err == nil {
		ts[0] = fi.ModTime()
	}
	if fi, err := os.Stat(r.dotenvPath); err == nil {
		ts[1] = fi.ModTime()
	}
	return ts
}
