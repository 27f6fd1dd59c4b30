package security

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestIsTrusted_WorkspaceAlwaysTrusted(t *testing.T) {
	m := NewTrustManager(t.TempDir(), nil)
	ws := t.TempDir()

	if !m.IsTrusted(ws, ws) {
		t.Error("workspace itself must be trusted")
	}
	if !m.IsTrusted(filepath.Join(ws, "sub", "file.txt"), ws) {
		t.Error("workspace subtree must be trusted")
	}
	if m.IsTrusted(t.TempDir(), ws) {
		t.Error("unrelated directory should not be trusted")
	}
}

func TestTrustRevoke_RoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	m := NewTrustManager(stateDir, nil)
	ws := t.TempDir()
	other := t.TempDir()

	before := m.TrustedDirectories()

	m.Trust(other)
	if !m.IsTrusted(filepath.Join(other, "deep", "file"), ws) {
		t.Error("trusted directory subtree should pass")
	}

	if !m.Revoke(other) {
		t.Error("Revoke should report true")
	}
	if m.Revoke(other) {
		t.Error("second Revoke should report false")
	}
	if m.IsTrusted(other, ws) {
		t.Error("revoked directory should be untrusted")
	}
	if !reflect.DeepEqual(m.TrustedDirectories(), before) {
		t.Error("trust+revoke should restore prior state")
	}
}

func TestTrust_PersistsAcrossLoads(t *testing.T) {
	stateDir := t.TempDir()
	other := t.TempDir()

	NewTrustManager(stateDir, nil).Trust(other)

	m2 := NewTrustManager(stateDir, nil)
	if !m2.IsTrusted(other, t.TempDir()) {
		t.Error("trust grant should persist to disk")
	}
}

func TestCheckAndPrompt_HeadlessDeniesSilently(t *testing.T) {
	m := NewTrustManager(t.TempDir(), nil)
	if m.CheckAndPrompt(context.Background(), t.TempDir(), t.TempDir()) {
		t.Error("no prompt installed should deny")
	}
}

func TestCheckAndPrompt_DenialCachedForProcess(t *testing.T) {
	m := NewTrustManager(t.TempDir(), nil)
	ws := t.TempDir()
	target := t.TempDir()

	prompts := 0
	m.SetPrompt(func(_ context.Context, dir string) bool {
		prompts++
		return false
	})

	if m.CheckAndPrompt(context.Background(), filepath.Join(target, "f"), ws) {
		t.Error("denied prompt should deny access")
	}
	// Second check hits the session denial cache, no second prompt.
	m.CheckAndPrompt(context.Background(), filepath.Join(target, "g"), ws)
	if prompts != 1 {
		t.Errorf("prompts = %d, want 1 (denial cached)", prompts)
	}
}

func TestCheckAndPrompt_GrantPersists(t *testing.T) {
	// Separate manager: trust targets resolve to a shared ancestor (/tmp
	// style), so the denial cache from other tests must not interfere.
	m := NewTrustManager(t.TempDir(), nil)
	ws := t.TempDir()
	granted := t.TempDir()

	m.SetPrompt(func(_ context.Context, dir string) bool { return true })
	if !m.CheckAndPrompt(context.Background(), filepath.Join(granted, "f"), ws) {
		t.Error("granted prompt should allow")
	}
	// Grant persisted: no further prompt needed.
	m.SetPrompt(func(_ context.Context, dir string) bool {
		t.Error("should not prompt for already-trusted dir")
		return false
	})
	if !m.CheckAndPrompt(context.Background(), filepath.Join(granted, "other"), ws) {
		t.Error("persisted grant should allow")
	}
}

func TestCheckAndPrompt_SerializedPrompts(t *testing.T) {
	m := NewTrustManager(t.TempDir(), nil)
	ws := t.TempDir()
	target := t.TempDir()

	var mu sync.Mutex
	prompts := 0
	m.SetPrompt(func(_ context.Context, dir string) bool {
		mu.Lock()
		prompts++
		mu.Unlock()
		return true
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !m.CheckAndPrompt(context.Background(), filepath.Join(target, "f"), ws) {
				t.Error("access should be granted")
			}
		}()
	}
	wg.Wait()

	if prompts != 1 {
		t.Errorf("parallel calls prompted %d times, want 1", prompts)
	}
}

func TestFindTrustTarget_OutsideHome(t *testing.T) {
	got := FindTrustTarget("/tmp/work/project/file.txt")
	if got != "/tmp" {
		t.Errorf("FindTrustTarget = %q, want /tmp", got)
	}
}
