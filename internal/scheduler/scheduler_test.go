package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mkalnins/sswatch/internal/runner"
	"github.com/mkalnins/sswatch/internal/store"
	"github.com/mkalnins/sswatch/internal/task"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, taskName string, force bool) (*store.TaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[taskName]++
	if f.err != nil {
		return nil, f.err
	}
	return &store.TaskRun{ID: "run-1", TaskName: taskName, Outcome: store.OutcomeSuccess}, nil
}

func (f *fakeRunner) count(taskName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskName]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func scheduledTarget(name, schedule string) task.Target {
	return task.Target{
		Name:     name,
		URL:      "https://www.ss.example/" + name + "/",
		Schedule: schedule,
		Selectors: task.Selectors{
			Item:  "tr",
			ID:    "@id",
			Title: "a",
		},
	}
}

func TestStartFiresScheduledTask(t *testing.T) {
	registry := task.NewRegistry(scheduledTarget("ogre", "@every 50ms"))
	r := &fakeRunner{}
	s := New(registry, r, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for r.count("ogre") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled task never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartSkipsUnscheduledTasks(t *testing.T) {
	unscheduled := scheduledTarget("jelgava", "")
	registry := task.NewRegistry(scheduledTarget("ogre", "@every 50ms"), unscheduled)
	r := &fakeRunner{}
	s := New(registry, r, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for r.count("ogre") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled task never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if r.count("jelgava") != 0 {
		t.Error("unscheduled task was fired")
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	registry := task.NewRegistry(scheduledTarget("ogre", "not a cron spec"))
	s := New(registry, &fakeRunner{}, testLogger())

	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid schedule")
	}
}

func TestFireLogsBusyTask(t *testing.T) {
	r := &fakeRunner{err: fmt.Errorf("wrapped: %w", runner.ErrTaskAlreadyRunning)}
	s := New(task.NewRegistry(), r, testLogger())

	// Must not panic or return anything; the skip is logged.
	s.fire(context.Background(), "ogre")
	if r.count("ogre") != 1 {
		t.Errorf("runner called %d times", r.count("ogre"))
	}
}
