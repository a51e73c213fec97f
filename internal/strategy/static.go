package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/sextant-io/sextant/internal/executor"
)

// Static answers every goal with fixed outputs after an optional delay. It
// keeps no partial state and does not implement Interruptible; it exists for
// wiring tests and demos where predictable answers matter more than realism.
//
// Options:
//
//	delay_ms       int     artificial work time per goal (default 0)
//	descriptor_id  int     descriptor returned by the descriptor actions
//	x, y, theta    float   pose returned by the localize actions
//	confidence     float   pose confidence (default 1.0)
//	dissimilarity  float   score returned by GET_DISSIMILARITY
type Static struct {
	name   string
	logger *slog.Logger

	delay         time.Duration
	descriptorID  int64
	x, y, theta   float64
	confidence    float64
	dissimilarity float64
}

// NewStatic creates a canned-answer strategy.
func NewStatic(name string, opts map[string]any, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{
		name:          name,
		logger:        logger.With("strategy", "static", "executor", name),
		delay:         time.Duration(optInt(opts, "delay_ms", 0)) * time.Millisecond,
		descriptorID:  optInt(opts, "descriptor_id", 1),
		x:             optFloat(opts, "x", 0),
		y:             optFloat(opts, "y", 0),
		theta:         optFloat(opts, "theta", 0),
		confidence:    optFloat(opts, "confidence", 1.0),
		dissimilarity: optFloat(opts, "dissimilarity", 0),
	}
}

func (s *Static) GetVertexDescriptor(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.wait(ctx, run); err != nil {
		return executor.Output{}, err
	}
	return executor.Output{
		Descriptors: []executor.DescriptorLink{{
			ObjectID:     run.Goal().Vertex,
			DescriptorID: s.descriptorID,
			Interface:    "static/descriptor",
		}},
	}, nil
}

func (s *Static) GetEdgesDescriptors(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.wait(ctx, run); err != nil {
		return executor.Output{}, err
	}
	return executor.Output{
		Descriptors: []executor.DescriptorLink{{
			ObjectID:     run.Goal().Vertex,
			DescriptorID: s.descriptorID,
			Interface:    "static/edge",
		}},
	}, nil
}

func (s *Static) LocalizeInVertex(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.wait(ctx, run); err != nil {
		return executor.Output{}, err
	}
	return executor.Output{Estimate: s.pose()}, nil
}

func (s *Static) LocalizeEdge(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.wait(ctx, run); err != nil {
		return executor.Output{}, err
	}
	return executor.Output{Estimate: s.pose()}, nil
}

func (s *Static) GetDissimilarity(ctx context.Context, run *executor.Run) (executor.Output, error) {
	if err := s.wait(ctx, run); err != nil {
		return executor.Output{}, err
	}
	return executor.Output{Dissimilarity: s.dissimilarity}, nil
}

func (s *Static) pose() *executor.Estimate {
	return &executor.Estimate{X: s.x, Y: s.y, Theta: s.theta, Confidence: s.confidence}
}

// wait burns the configured delay, stopping early on preemption or shutdown.
func (s *Static) wait(ctx context.Context, run *executor.Run) error {
	if s.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.Preempted():
		return executor.ErrInterrupted
	case <-time.After(s.delay):
		return nil
	}
}
