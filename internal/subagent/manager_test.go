package subagent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSpawn_CompletesWithResult(t *testing.T) {
	m := NewManager(nil)
	info := m.Spawn("summarize report", func(ctx context.Context) (string, error) {
		return "summary text", nil
	})

	if !strings.HasPrefix(info.ID, "sub_") || len(info.ID) != 12 {
		t.Errorf("id = %q, want sub_ + 8 hex", info.ID)
	}
	if info.Status != StatusRunning {
		t.Errorf("initial status = %s", info.Status)
	}

	final, err := m.Wait(context.Background(), info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted || final.Result != "summary text" {
		t.Errorf("final = %+v", final)
	}
}

func TestSpawn_FailureCapturesError(t *testing.T) {
	m := NewManager(nil)
	info := m.Spawn("doomed", func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})
	final, err := m.Wait(context.Background(), info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusFailed || final.Error != "boom" {
		t.Errorf("final = %+v", final)
	}
}

func TestCancel_Cooperative(t *testing.T) {
	m := NewManager(nil)
	started := make(chan struct{})
	info := m.Spawn("long task", func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	<-started

	if !m.Cancel(info.ID) {
		t.Fatal("Cancel should succeed for a running task")
	}
	final, err := m.Wait(context.Background(), info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}
	if m.Cancel(info.ID) {
		t.Error("Cancel on finished task should report false")
	}
}

func TestCancelAll(t *testing.T) {
	m := NewManager(nil)
	var ids []string
	for i := 0; i < 3; i++ {
		info := m.Spawn("task", func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		ids = append(ids, info.ID)
	}
	if n := m.CancelAll(); n != 3 {
		t.Errorf("cancelled %d, want 3", n)
	}
	for _, id := range ids {
		final, err := m.Wait(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if final.Status != StatusCancelled {
			t.Errorf("task %s status = %s", id, final.Status)
		}
	}
}

func TestList_NewestFirst(t *testing.T) {
	m := NewManager(nil)
	a := m.Spawn("first", func(ctx context.Context) (string, error) { return "", nil })
	time.Sleep(5 * time.Millisecond)
	b := m.Spawn("second", func(ctx context.Context) (string, error) { return "", nil })

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != b.ID || list[1].ID != a.ID {
		t.Errorf("order = %s, %s", list[0].ID, list[1].ID)
	}
}

func TestWait_UnknownID(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Wait(context.Background(), "sub_missing0"); err == nil {
		t.Error("expected error for unknown id")
	}
}
