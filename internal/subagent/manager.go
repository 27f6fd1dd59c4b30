// Package subagent tracks background agent tasks: independent agent runs
// spawned by the LLM whose results are reported asynchronously.
package subagent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is a subagent lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Info describes one background task.
type Info struct {
	ID              string    `json:"id"`
	TaskDescription string    `json:"task_description"`
	Status          Status    `json:"status"`
	Result          string    `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// RunFunc is the work a subagent performs; its return value becomes the
// task result. Cancellation is cooperative through the context.
type RunFunc func(ctx context.Context) (string, error)

type task struct {
	info   Info
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager spawns and tracks background tasks.
type Manager struct {
	logger *slog.Logger
	mu     sync.Mutex
	tasks  map[string]*task
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "subagent"),
		tasks:  map[string]*task{},
	}
}

func newID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "sub_" + hex.EncodeToString(buf)
}

// Spawn schedules run as a background task and returns its Info snapshot
// with status running.
func (m *Manager) Spawn(taskDescription string, run RunFunc) Info {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		info: Info{
			ID:              newID(),
			TaskDescription: taskDescription,
			Status:          StatusRunning,
			StartedAt:       time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[t.info.ID] = t
	m.mu.Unlock()
	snapshot := t.info
	m.logger.Info("spawned subagent", "id", snapshot.ID, "task", taskDescription)

	go func() {
		defer close(t.done)
		result, err := run(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		t.info.FinishedAt = time.Now()
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			t.info.Status = StatusCancelled
		case err != nil:
			t.info.Status = StatusFailed
			t.info.Error = err.Error()
		default:
			t.info.Status = StatusCompleted
			t.info.Result = result
		}
		m.logger.Info("subagent finished", "id", t.info.ID, "status", t.info.Status)
	}()

	return snapshot
}

// Get returns a task snapshot by id.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Info{}, false
	}
	return t.info, true
}

// List returns snapshots of all known tasks, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel requests cancellation of a running task; the task observes it at
// its next suspension point. Returns false for unknown or finished tasks.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	running := ok && t.info.Status == StatusRunning
	m.mu.Unlock()
	if !running {
		return false
	}
	t.cancel()
	return true
}

// CancelAll cancels every running task and returns how many were signaled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	var pending []*task
	for _, t := range m.tasks {
		if t.info.Status == StatusRunning {
			pending = append(pending, t)
		}
	}
	m.mu.Unlock()
	for _, t := range pending {
		t.cancel()
	}
	return len(pending)
}

// Wait blocks until the task finishes or the context expires. Used by
// tests and the check tool's blocking mode.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Info{}, errors.New("unknown subagent: " + id)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.info, nil
}
