package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sextant-io/sextant/internal/executor"
)

// Sim is a deterministic simulated localizer. It does no sensing; it derives
// descriptors, pose estimates, and dissimilarity scores from a seed and the
// goal's payload, and spends a configurable amount of sliced work time per
// action so interruption behavior can be exercised realistically.
//
// Options:
//
//	seed      int   RNG seed (default 1)
//	slice_ms  int   duration of one work slice in milliseconds (default 50)
//	slices    int   extra scale on the per-action slice counts (default 1)
type Sim struct {
	name   string
	logger *slog.Logger
	seed   int64
	slice  time.Duration
	scale  int64

	mu     sync.Mutex
	paused *pausedRun // at most one, mirroring the executor's saved context
}

// pausedRun records how far a hook got before it stopped for an interruption.
type pausedRun struct {
	goalID string
	done   int
}

// NewSim creates a simulated localizer.
func NewSim(name string, opts map[string]any, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{
		name:   name,
		logger: logger.With("strategy", "sim", "executor", name),
		seed:   optInt(opts, "seed", 1),
		slice:  time.Duration(optInt(opts, "slice_ms", 50)) * time.Millisecond,
		scale:  optInt(opts, "slices", 1),
	}
}

// Slice counts per action; localization takes longer than descriptor reads.
const (
	slicesGetVertexDescriptor = 4
	slicesGetEdgesDescriptors = 6
	slicesLocalizeInVertex    = 10
	slicesLocalizeEdge        = 8
	slicesGetDissimilarity    = 5
)

func (s *Sim) GetVertexDescriptor(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.work(ctx, run, slicesGetVertexDescriptor); err != nil {
		return executor.Output{}, err
	}
	g := run.Goal()
	rng := s.rng(g.Vertex)
	return executor.Output{
		Descriptors: []executor.DescriptorLink{{
			ObjectID:     g.Vertex,
			DescriptorID: rng.Int63n(1 << 31),
			Interface:    "sim/descriptor",
		}},
	}, nil
}

func (s *Sim) GetEdgesDescriptors(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.work(ctx, run, slicesGetEdgesDescriptors); err != nil {
		return executor.Output{}, err
	}
	g := run.Goal()
	rng := s.rng(g.Vertex)

	// Between two and five outgoing edges per vertex.
	n := 2 + rng.Intn(4)
	links := make([]executor.DescriptorLink, 0, n)
	for i := 0; i < n; i++ {
		links = append(links, executor.DescriptorLink{
			ObjectID:     g.Vertex*100 + int64(i),
			DescriptorID: rng.Int63n(1 << 31),
			Interface:    "sim/edge",
		})
	}
	return executor.Output{Descriptors: links}, nil
}

func (s *Sim) LocalizeInVertex(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.work(ctx, run, slicesLocalizeInVertex); err != nil {
		return executor.Output{}, err
	}
	g := run.Goal()
	rng := s.rng(g.Vertex)
	est := s.poseAt(g.Vertex, rng)
	return executor.Output{Estimate: &est}, nil
}

func (s *Sim) LocalizeEdge(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.work(ctx, run, slicesLocalizeEdge); err != nil {
		return executor.Output{}, err
	}
	g := run.Goal()
	rng := s.rng(g.Edge)
	est := s.poseAt(g.Edge, rng)
	est.Theta = math.Mod(est.Theta+math.Pi/2, 2*math.Pi)
	return executor.Output{Estimate: &est}, nil
}

func (s *Sim) GetDissimilarity(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.work(ctx, run, slicesGetDissimilarity); err != nil {
		return executor.Output{}, err
	}
	g := run.Goal()
	rng := s.rng(g.DescriptorA.DescriptorID ^ g.DescriptorB.DescriptorID)
	return executor.Output{Dissimilarity: rng.Float64()}, nil
}

// OnInterrupt implements executor.Interruptible. The partial slice count was
// already recorded by the hook when it observed the signal.
func (s *Sim) OnInterrupt(goal executor.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := 0
	if s.paused != nil && s.paused.goalID == goal.ID {
		done = s.paused.done
	}
	s.logger.Info("paused", "goal_id", goal.ID, "slices_done", done)
}

// OnContinue implements executor.Interruptible.
func (s *Sim) OnContinue(goal executor.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil || s.paused.goalID != goal.ID {
		s.logger.Warn("no paused progress for resumed goal; starting over", "goal_id", goal.ID)
		s.paused = nil
		return
	}
	s.logger.Info("resuming", "goal_id", goal.ID, "slices_done", s.paused.done)
}

// work walks the goal's slices, publishing progress and honoring the
// preemption signal between them. On interruption it records how far it
// got so a resumed run picks up where this one stopped.
func (s *Sim) work(ctx context.Context, run *executor.Run, slices int) error {
	total := int(s.scale) * slices
	if total < 1 {
		total = slices
	}
	goal := run.Goal()

	done := s.takePaused(goal.ID)
	for ; done < total; done++ {
		if run.Interrupted() {
			s.storePaused(goal.ID, done)
			return fmt.Errorf("%s at slice %d/%d: %w", goal.Action, done, total, executor.ErrInterrupted)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.slice):
		}
		run.Publish(float64(done+1)/float64(total), fmt.Sprintf("slice %d/%d", done+1, total))
	}
	return nil
}

// takePaused consumes saved progress for the goal, if any.
func (s *Sim) takePaused(goalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil || s.paused.goalID != goalID {
		return 0
	}
	done := s.paused.done
	s.paused = nil
	return done
}

func (s *Sim) storePaused(goalID string, done int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = &pausedRun{goalID: goalID, done: done}
}

// rng derives a deterministic generator from the seed and a goal input, so
// identical goals always produce identical outputs.
func (s *Sim) rng(input int64) *rand.Rand {
	return rand.New(rand.NewSource(s.seed*31 + input))
}

// poseAt lays vertices out on a spiral. The jitter stays within the vertex's
// cell so repeated localizations agree to ~0.1m.
func (s *Sim) poseAt(id int64, rng *rand.Rand) executor.Estimate {
	angle := float64(id) * 0.618 * 2 * math.Pi
	radius := 2.0 * math.Sqrt(float64(id)+1)
	return executor.Estimate{
		X:          radius*math.Cos(angle) + rng.Float64()*0.1,
		Y:          radius*math.Sin(angle) + rng.Float64()*0.1,
		Theta:      math.Mod(angle, 2*math.Pi),
		Confidence: 0.8 + 0.2*rng.Float64(),
	}
}
