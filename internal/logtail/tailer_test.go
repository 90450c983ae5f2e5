package logtail_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slipway/internal/logtail"
	"slipway/internal/workspace"
)

func newFinishedlessBuild(t *testing.T) *workspace.Build {
	t.Helper()
	appsPath := t.TempDir()
	if err := os.MkdirAll(filepath.Join(appsPath, "demo", "sources"), 0o755); err != nil {
		t.Fatalf("create app dirs: %v", err)
	}
	archive := filepath.Join(appsPath, "demo", "sources", "abc123.tar.gz")
	if err := os.WriteFile(archive, []byte("archive"), 0o644); err != nil {
		t.Fatalf("write revision archive: %v", err)
	}
	b, err := workspace.NewManager(appsPath).Allocate("demo", "abc123")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	return b
}

// syncBuffer is a goroutine-safe writer recording everything streamed.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func appendLog(t *testing.T, b *workspace.Build, line string) {
	t.Helper()
	f, err := os.OpenFile(b.LogPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open build log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("append build log: %v", err)
	}
}

func TestStream_FinishedBuildReturnsWholeFile(t *testing.T) {
	b := newFinishedlessBuild(t)
	appendLog(t, b, "line one\nline two\n")
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	var out syncBuffer
	tailer := &logtail.Tailer{}
	if err := tailer.Stream(context.Background(), b, &out); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if out.String() != "line one\nline two\n" {
		t.Fatalf("Stream() output = %q, want whole file", out.String())
	}
}

func TestStream_FollowsAppendsUntilMarker(t *testing.T) {
	b := newFinishedlessBuild(t)
	appendLog(t, b, "first\n")

	tailer := &logtail.Tailer{Tick: 10 * time.Millisecond, Idle: 5 * time.Second}
	var out syncBuffer

	done := make(chan error, 1)
	go func() {
		done <- tailer.Stream(context.Background(), b, &out)
	}()

	waitFor(t, func() bool { return strings.Contains(out.String(), "first\n") })
	appendLog(t, b, "second\n")
	waitFor(t, func() bool { return strings.Contains(out.String(), "second\n") })

	appendLog(t, b, "third\n")
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stream() did not end after completion marker appeared")
	}

	if got := out.String(); got != "first\nsecond\nthird\n" {
		t.Fatalf("Stream() output = %q, want all appended lines", got)
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	b := newFinishedlessBuild(t)
	appendLog(t, b, "only line\n")

	tailer := &logtail.Tailer{Tick: 10 * time.Millisecond, Idle: 100 * time.Millisecond}
	var out syncBuffer

	start := time.Now()
	if err := tailer.Stream(context.Background(), b, &out); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stream() took %s, expected idle timeout well under 3s", elapsed)
	}
	if out.String() != "only line\n" {
		t.Fatalf("Stream() output = %q", out.String())
	}
}

func TestStream_CancelTearsDownImmediately(t *testing.T) {
	b := newFinishedlessBuild(t)

	tailer := &logtail.Tailer{Tick: 10 * time.Millisecond, Idle: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		var out syncBuffer
		done <- tailer.Stream(ctx, b, &out)
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Stream() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream() did not end after cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
