package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sextant-io/sextant/internal/config"
	"github.com/sextant-io/sextant/internal/executor"
	"github.com/sextant-io/sextant/internal/transport"
)

func TestCreate(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{"sim", false},
		{"SIM", false},
		{"static", false},
		{"gps", true},
	}

	for _, tt := range tests {
		_, err := Create("test", config.StrategyConfig{Driver: tt.driver}, nil)
		if tt.wantErr && err == nil {
			t.Errorf("driver %q: expected error", tt.driver)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("driver %q: unexpected error: %v", tt.driver, err)
		}
	}
}

func newHarness(t *testing.T, s executor.Strategy) *transport.Local {
	t.Helper()
	tr := transport.NewLocal(transport.LocalConfig{Executor: "test"})
	ex, err := executor.New(executor.Config{Name: "test", PreemptGrace: time.Second}, s)
	if err != nil {
		t.Fatalf("executor.New failed: %v", err)
	}
	ex.Bind(tr)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ex.Close(ctx)
	})
	return tr
}

func waitResultFor(t *testing.T, ch <-chan executor.Result, goalID string) executor.Result {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res := <-ch:
			if res.GoalID == goalID {
				return res
			}
		case <-deadline:
			t.Fatalf("timed out waiting for result of %s", goalID)
			return executor.Result{}
		}
	}
}

func TestSimDeterministicOutputs(t *testing.T) {
	opts := map[string]any{"seed": 42, "slice_ms": 1}
	tr := newHarness(t, NewSim("test", opts, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionLocalizeInVertex, Vertex: 5})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if first.Status != executor.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", first.Status, first.Reason)
	}
	if first.Estimate == nil {
		t.Fatal("expected an estimate")
	}

	second, err := tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionLocalizeInVertex, Vertex: 5})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if diff := cmp.Diff(first.Estimate, second.Estimate); diff != "" {
		t.Fatalf("same goal must localize identically (-first +second):\n%s", diff)
	}

	// A different vertex lands somewhere else.
	third, err := tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionLocalizeInVertex, Vertex: 6})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if third.Estimate.X == first.Estimate.X && third.Estimate.Y == first.Estimate.Y {
		t.Fatal("different vertices must not share a pose")
	}
}

func TestSimEdgeAndDissimilarityOutputs(t *testing.T) {
	opts := map[string]any{"seed": 7, "slice_ms": 1}
	tr := newHarness(t, NewSim("test", opts, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionGetEdgesDescriptors, Vertex: 3})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if res.Status != executor.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Reason)
	}
	if len(res.Descriptors) < 2 || len(res.Descriptors) > 5 {
		t.Fatalf("expected 2..5 edges, got %d", len(res.Descriptors))
	}
	for _, d := range res.Descriptors {
		if d.Interface != "sim/edge" {
			t.Fatalf("unexpected interface %q", d.Interface)
		}
	}

	res, err = tr.SubmitWait(ctx, executor.Goal{
		Action:      executor.ActionGetDissimilarity,
		DescriptorA: &executor.DescriptorLink{ObjectID: 1, DescriptorID: 11},
		DescriptorB: &executor.DescriptorLink{ObjectID: 2, DescriptorID: 22},
	})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if res.Status != executor.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Reason)
	}
	if res.Dissimilarity < 0 || res.Dissimilarity >= 1 {
		t.Fatalf("dissimilarity out of range: %f", res.Dissimilarity)
	}
}

func TestSimInterruptResumeKeepsProgress(t *testing.T) {
	opts := map[string]any{"seed": 1, "slice_ms": 10}
	tr := newHarness(t, NewSim("test", opts, nil))

	resCh := make(chan executor.Result, 16)
	tr.OnResult(func(r executor.Result) { resCh <- r })
	fbCh := make(chan executor.Feedback, 64)
	tr.OnFeedback(func(fb executor.Feedback) { fbCh <- fb })

	if _, err := tr.Submit(executor.Goal{ID: "goal-1", Action: executor.ActionLocalizeInVertex, Vertex: 7}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Let a couple of slices complete before interrupting.
	delivered := 0
	for delivered < 2 {
		select {
		case <-fbCh:
			delivered++
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for feedback")
		}
	}

	if _, err := tr.Submit(executor.Goal{ID: "ctl-1", Action: executor.ActionInterrupt}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	res := waitResultFor(t, resCh, "goal-1")
	if res.Status != executor.StatusPreempted {
		t.Fatalf("expected preempted, got %s (%s)", res.Status, res.Reason)
	}
	waitResultFor(t, resCh, "ctl-1")

	if _, err := tr.Submit(executor.Goal{ID: "ctl-2", Action: executor.ActionContinue}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	res = waitResultFor(t, resCh, "goal-1")
	if res.Status != executor.StatusSuccess {
		t.Fatalf("expected success after resume, got %s (%s)", res.Status, res.Reason)
	}

	// Drain the remaining feedback. A resumed run picks up at the saved
	// slice, so the two runs together deliver at most the goal's total of
	// ten slices; a restart would exceed it.
	var last executor.Feedback
drain:
	for {
		select {
		case fb := <-fbCh:
			delivered++
			last = fb
		case <-time.After(200 * time.Millisecond):
			break drain
		}
	}
	if delivered > 10 {
		t.Fatalf("resume restarted the work: %d slices delivered", delivered)
	}
	if last.Completion != 1.0 {
		t.Fatalf("expected final completion 1.0, got %f", last.Completion)
	}
}

func TestStaticOutputs(t *testing.T) {
	opts := map[string]any{
		"descriptor_id": 99,
		"x":             1.0,
		"y":             -2.5,
		"theta":         0.75,
		"confidence":    0.5,
		"dissimilarity": 0.33,
	}
	tr := newHarness(t, NewStatic("test", opts, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionLocalizeInVertex, Vertex: 1})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	want := &executor.Estimate{X: 1.0, Y: -2.5, Theta: 0.75, Confidence: 0.5}
	if diff := cmp.Diff(want, res.Estimate); diff != "" {
		t.Fatalf("estimate mismatch (-want +got):\n%s", diff)
	}

	res, err = tr.SubmitWait(ctx, executor.Goal{Action: executor.ActionGetVertexDescriptor, Vertex: 4})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if len(res.Descriptors) != 1 || res.Descriptors[0].DescriptorID != 99 {
		t.Fatalf("unexpected descriptors: %+v", res.Descriptors)
	}

	res, err = tr.SubmitWait(ctx, executor.Goal{
		Action:      executor.ActionGetDissimilarity,
		DescriptorA: &executor.DescriptorLink{DescriptorID: 1},
		DescriptorB: &executor.DescriptorLink{DescriptorID: 2},
	})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if res.Dissimilarity != 0.33 {
		t.Fatalf("expected dissimilarity 0.33, got %f", res.Dissimilarity)
	}
}

func TestStaticDelayHonorsPreemption(t *testing.T) {
	opts := map[string]any{"delay_ms": 10_000}
	tr := newHarness(t, NewStatic("test", opts, nil))

	resCh := make(chan executor.Result, 16)
	tr.OnResult(func(r executor.Result) { resCh <- r })

	if _, err := tr.Submit(executor.Goal{ID: "goal-1", Action: executor.ActionLocalizeEdge, Edge: 2}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := tr.Submit(executor.Goal{ID: "ctl-1", Action: executor.ActionInterrupt}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	res := waitResultFor(t, resCh, "goal-1")
	if res.Status != executor.StatusPreempted {
		t.Fatalf("expected preempted, got %s (%s)", res.Status, res.Reason)
	}
}
