package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	m := NewManager(t.TempDir())
	guard, err := m.Acquire(context.Background(), "ps-118", "editor-a", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	holder, _, held := m.Inspect("ps-118")
	if !held || holder != "editor-a" {
		t.Fatalf("Inspect: holder=%q held=%v", holder, held)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("second Release must be a no-op: %v", err)
	}
	if _, _, held := m.Inspect("ps-118"); held {
		t.Fatal("marker still present after release")
	}
}

func TestSecondHolderFailsWhileHeld(t *testing.T) {
	m := NewManager(t.TempDir())
	guard, err := m.Acquire(context.Background(), "ps-118", "editor-a", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = guard.Release() }()

	_, err = m.Acquire(context.Background(), "ps-118", "editor-b", 0)
	var already AlreadyLockedError
	if !errors.As(err, &already) {
		t.Fatalf("want AlreadyLockedError, got %v", err)
	}
	if already.Holder != "editor-a" {
		t.Fatalf("blocking holder %q, want editor-a", already.Holder)
	}
}

func TestSecondHolderSucceedsAfterRelease(t *testing.T) {
	m := NewManager(t.TempDir(), WithPollInterval(10*time.Millisecond))
	guard, err := m.Acquire(context.Background(), "ps-118", "editor-a", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = guard.Release()
		close(released)
	}()

	start := time.Now()
	second, err := m.Acquire(context.Background(), "ps-118", "editor-b", 2*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer func() { _ = second.Release() }()
	<-released
	if elapsed < 100*time.Millisecond {
		t.Fatalf("acquired before the holder released (%s)", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("acquisition waited for the timeout boundary (%s) instead of the release", elapsed)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	m := NewManager(t.TempDir(), WithPollInterval(10*time.Millisecond))
	guard, err := m.Acquire(context.Background(), "ps-118", "editor-a", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = guard.Release() }()

	_, err = m.Acquire(context.Background(), "ps-118", "editor-b", 100*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("want ErrTimedOut, got %v", err)
	}
	var already AlreadyLockedError
	if !errors.As(err, &already) || already.Holder != "editor-a" {
		t.Fatalf("timeout error must carry the blocking holder, got %v", err)
	}
}

func TestAcquireCancelled(t *testing.T) {
	m := NewManager(t.TempDir(), WithPollInterval(10*time.Millisecond))
	guard, err := m.Acquire(context.Background(), "ps-118", "editor-a", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = guard.Release() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err = m.Acquire(ctx, "ps-118", "editor-b", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, WithStaleAfter(50*time.Millisecond))
	guard, err := m.Acquire(context.Background(), "ps-118", "crashed-editor", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Simulate a crash: the holder never releases.
	_ = guard

	time.Sleep(80 * time.Millisecond)
	second, err := m.Acquire(context.Background(), "ps-118", "editor-b", 0)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	defer func() { _ = second.Release() }()
	holder, _, _ := m.Inspect("ps-118")
	if holder != "editor-b" {
		t.Fatalf("holder after reclaim %q", holder)
	}
}

func TestCorruptMarkerTreatedAsLive(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	path := filepath.Join(dir, "ps-118", MarkerName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := m.Acquire(context.Background(), "ps-118", "editor-b", 0)
	var already AlreadyLockedError
	if !errors.As(err, &already) {
		t.Fatalf("corrupt marker must read as held, got %v", err)
	}
}
