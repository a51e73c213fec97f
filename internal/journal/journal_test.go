package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sextant-io/sextant/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndQueryGoal(t *testing.T) {
	j := openTestJournal(t)

	submitted := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	err := j.RecordGoal("main", events.GoalReceivedPayload{
		GoalID: "goal-1",
		Action: "LOCALIZE_IN_VERTEX",
		Vertex: 7,
	}, submitted)
	if err != nil {
		t.Fatalf("RecordGoal failed: %v", err)
	}

	err = j.RecordResult("main", events.ResultPayload{
		GoalID:   "goal-1",
		Action:   "LOCALIZE_IN_VERTEX",
		Status:   "success",
		Duration: 1.25,
	}, submitted.Add(2*time.Second))
	if err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}

	rec, err := j.Goal("goal-1")
	if err != nil {
		t.Fatalf("Goal failed: %v", err)
	}
	if rec.Executor != "main" {
		t.Errorf("expected executor main, got %s", rec.Executor)
	}
	if rec.Vertex != 7 {
		t.Errorf("expected vertex 7, got %d", rec.Vertex)
	}
	if rec.Status != "success" {
		t.Errorf("expected status success, got %s", rec.Status)
	}
	if rec.Duration != 1.25 {
		t.Errorf("expected duration 1.25, got %f", rec.Duration)
	}
	if rec.SubmittedAt != "2025-06-01T10:00:00Z" {
		t.Errorf("unexpected submitted_at %s", rec.SubmittedAt)
	}
	if rec.CompletedAt != "2025-06-01T10:00:02Z" {
		t.Errorf("unexpected completed_at %s", rec.CompletedAt)
	}
}

func TestGoalNotFound(t *testing.T) {
	j := openTestJournal(t)

	if _, err := j.Goal("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResultBeforeGoal(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()

	// Bus handlers run concurrently; a result can land before its goal row.
	if err := j.RecordResult("main", events.ResultPayload{
		GoalID: "goal-1",
		Action: "GET_VERTEX_DESCRIPTOR",
		Status: "failure",
		Reason: "unknown vertex",
	}, now); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}
	if err := j.RecordGoal("main", events.GoalReceivedPayload{
		GoalID: "goal-1",
		Action: "GET_VERTEX_DESCRIPTOR",
		Vertex: 3,
	}, now); err != nil {
		t.Fatalf("RecordGoal failed: %v", err)
	}

	rec, err := j.Goal("goal-1")
	if err != nil {
		t.Fatalf("Goal failed: %v", err)
	}
	if rec.Status != "failure" || rec.Reason != "unknown vertex" {
		t.Errorf("late goal row must keep the outcome, got %+v", rec)
	}
	if rec.Vertex != 3 {
		t.Errorf("expected vertex 3, got %d", rec.Vertex)
	}
}

func TestRecentGoalsOrder(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := j.RecordGoal("main", events.GoalReceivedPayload{
			GoalID: string(rune('a' + i)),
			Action: "LOCALIZE_EDGE",
			Edge:   int64(i),
		}, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("RecordGoal failed: %v", err)
		}
	}

	recent, err := j.RecentGoals(3)
	if err != nil {
		t.Fatalf("RecentGoals failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(recent))
	}
	if recent[0].ID != "e" || recent[1].ID != "d" || recent[2].ID != "c" {
		t.Errorf("expected newest first, got %s %s %s", recent[0].ID, recent[1].ID, recent[2].ID)
	}
}

func TestTransitions(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()

	steps := []events.StateChangedPayload{
		{From: "idle", To: "running", Cause: "LOCALIZE_IN_VERTEX", GoalID: "goal-1"},
		{From: "running", To: "interrupted", Cause: "INTERRUPT", GoalID: "goal-1"},
		{From: "interrupted", To: "running", Cause: "CONTINUE", GoalID: "goal-1"},
		{From: "running", To: "completed", Cause: "hook-complete", GoalID: "goal-1"},
	}
	for _, p := range steps {
		if err := j.RecordTransition("main", p, now); err != nil {
			t.Fatalf("RecordTransition failed: %v", err)
		}
	}

	got, err := j.Transitions("goal-1")
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(got))
	}
	if got[1].To != "interrupted" || got[2].Cause != "CONTINUE" {
		t.Errorf("transitions out of order: %+v", got)
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	j := openTestJournal(t)

	bus := events.NewBus(64)
	defer bus.Close()
	j.Attach(bus)

	bus.Publish(events.NewTypedEventFor(events.SourceTransport, events.GoalReceivedPayload{
		GoalID: "goal-1",
		Action: "LOCALIZE_IN_VERTEX",
		Vertex: 9,
	}, "main"))
	bus.Publish(events.NewTypedEventFor(events.SourceExecutor, events.ResultPayload{
		GoalID: "goal-1",
		Action: "LOCALIZE_IN_VERTEX",
		Status: "success",
	}, "main"))

	time.Sleep(100 * time.Millisecond)

	rec, err := j.Goal("goal-1")
	if err != nil {
		t.Fatalf("Goal failed: %v", err)
	}
	if rec.Status != "success" || rec.Vertex != 9 {
		t.Errorf("unexpected record: %+v", rec)
	}
}
