// Package registry hosts named executor instances, wiring each to its own
// transport and owning their shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sextant-io/sextant/internal/events"
	"github.com/sextant-io/sextant/internal/executor"
	"github.com/sextant-io/sextant/internal/transport"
)

// Config configures a Registry.
type Config struct {
	// Default names the executor used when callers omit one.
	Default string

	// Bus is handed to every executor and transport.
	Bus *events.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Spec describes one executor instance to register.
type Spec struct {
	Name         string
	Strategy     string // driver name, for display
	PreemptGrace time.Duration
}

// Entry is a live executor with its transport.
type Entry struct {
	Name      string
	Strategy  string
	Executor  *executor.Executor
	Transport *transport.Local
}

// Status is a point-in-time view of one executor.
type Status struct {
	Name     string         `json:"name"`
	Strategy string         `json:"strategy"`
	State    executor.State `json:"state"`
	Goal     *executor.Goal `json:"goal,omitempty"`
}

// Registry holds the daemon's executor instances.
type Registry struct {
	defaultName string
	logger      *slog.Logger
	bus         *events.Bus

	mu      sync.RWMutex
	entries map[string]*Entry
	closed  bool
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defaultName: cfg.Default,
		logger:      logger,
		bus:         cfg.Bus,
		entries:     make(map[string]*Entry),
	}
}

// Register creates an executor around the strategy, binds it to a fresh
// transport, and stores it under spec.Name.
func (r *Registry) Register(spec Spec, s executor.Strategy) (*Entry, error) {
	if spec.Name == "" {
		return nil, errors.New("registry: executor name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("registry: closed")
	}
	if _, dup := r.entries[spec.Name]; dup {
		return nil, fmt.Errorf("registry: executor %q already registered", spec.Name)
	}

	ex, err := executor.New(executor.Config{
		Name:         spec.Name,
		Bus:          r.bus,
		Logger:       r.logger,
		PreemptGrace: spec.PreemptGrace,
	}, s)
	if err != nil {
		return nil, fmt.Errorf("registry: create executor %q: %w", spec.Name, err)
	}

	tr := transport.NewLocal(transport.LocalConfig{
		Executor: spec.Name,
		Bus:      r.bus,
		Logger:   r.logger,
	})
	ex.Bind(tr)

	entry := &Entry{
		Name:      spec.Name,
		Strategy:  spec.Strategy,
		Executor:  ex,
		Transport: tr,
	}
	r.entries[spec.Name] = entry

	r.logger.Info("executor registered", "executor", spec.Name, "strategy", spec.Strategy)
	if r.bus != nil {
		r.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.ExecutorRegisteredPayload{
			Name:     spec.Name,
			Strategy: spec.Strategy,
		}, spec.Name))
	}
	return entry, nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Resolve returns the entry for name, or the default executor when name is
// empty. With no configured default it falls back to a sole registered
// instance.
func (r *Registry) Resolve(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	if name == "" {
		if len(r.entries) == 1 {
			for _, e := range r.entries {
				return e, nil
			}
		}
		return nil, errors.New("registry: no default executor configured")
	}

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown executor %q", name)
	}
	return e, nil
}

// Submit routes a goal to the named executor's transport. An empty name
// targets the default executor.
func (r *Registry) Submit(name string, g executor.Goal) (string, error) {
	entry, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	return entry.Transport.Submit(g)
}

// Names returns the registered executor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports one executor's current state.
func (r *Registry) Status(name string) (Status, error) {
	entry, err := r.Resolve(name)
	if err != nil {
		return Status{}, err
	}
	return statusOf(entry), nil
}

// Statuses reports every executor's current state, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func statusOf(e *Entry) Status {
	st := Status{
		Name:     e.Name,
		Strategy: e.Strategy,
		State:    e.Executor.State(),
	}
	if goal, ok := e.Executor.ActiveGoal(); ok {
		st.Goal = &goal
	}
	return st
}

// Close shuts every executor down concurrently and rejects further
// registrations. It returns the first close error.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		g.Go(func() error {
			if err := entry.Executor.Close(ctx); err != nil {
				return err
			}
			if r.bus != nil {
				r.bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.ExecutorClosedPayload{
					Name: entry.Name,
				}, entry.Name))
			}
			return nil
		})
	}
	return g.Wait()
}
