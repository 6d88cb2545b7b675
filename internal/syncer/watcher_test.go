package syncer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/testutil"
)

func startWatchedService(t *testing.T, onQuestion QuestionCallback) (string, *fakeIndexer) {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	fake := &fakeIndexer{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := New(store, fake, nil, logger, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		_ = s.Run(ctx)
	}()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = Watch(ctx, s, vaultDir, logger, onQuestion)
	}()
	t.Cleanup(func() {
		cancel()
		<-watchDone
		<-svcDone
	})

	// Give the watcher a moment to register the role folders.
	time.Sleep(100 * time.Millisecond)
	return vaultDir, fake
}

func TestWatch_NewUnderstandingIndexed(t *testing.T) {
	vaultDir, fake := startWatchedService(t, nil)

	testutil.WriteNote(t, vaultDir, "Understandings/fresh.md", "---\ntype: understanding\n---\nFresh insight.\n")

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return fake.upsertCount() >= 1
	}, "expected the new understanding to be indexed")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	last := fake.upserts[len(fake.upserts)-1]
	if last.Path != "Understandings/fresh.md" {
		t.Errorf("path = %q", last.Path)
	}
	if last.Content != "Fresh insight.\n" {
		t.Errorf("content = %q", last.Content)
	}
}

func TestWatch_RemovedUnderstandingDeleted(t *testing.T) {
	vaultDir, fake := startWatchedService(t, nil)

	testutil.WriteNote(t, vaultDir, "Understandings/doomed.md", "short lived\n")
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return fake.upsertCount() >= 1
	}, "expected the note to be indexed first")

	if err := os.Remove(filepath.Join(vaultDir, "Understandings", "doomed.md")); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return fake.deleteCount() == 1
	}, "expected a remote delete for the removed note")
}

func TestWatch_NonMarkdownIgnored(t *testing.T) {
	vaultDir, fake := startWatchedService(t, nil)

	testutil.WriteNote(t, vaultDir, "Understandings/photo.png", "not markdown")

	time.Sleep(200 * time.Millisecond)
	if fake.upsertCount() != 0 {
		t.Errorf("upserts = %d, want 0 for non-markdown files", fake.upsertCount())
	}
}

func TestWatch_NewSubdirectoryPickedUp(t *testing.T) {
	vaultDir, fake := startWatchedService(t, nil)

	sub := filepath.Join(vaultDir, "Understandings", "archive")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the watcher register the new directory before writing into it.
	time.Sleep(200 * time.Millisecond)
	testutil.WriteNote(t, vaultDir, "Understandings/archive/old.md", "archived insight\n")

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return fake.upsertCount() >= 1
	}, "expected a note in a new subdirectory to be indexed")
}

func TestWatch_QuestionCallbackFires(t *testing.T) {
	var mu sync.Mutex
	var questions []string
	vaultDir, fake := startWatchedService(t, func(path string) {
		mu.Lock()
		questions = append(questions, path)
		mu.Unlock()
	})

	testutil.WriteNote(t, vaultDir, "Questions/why.md", "Why though?\n")

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(questions) >= 1
	}, "expected the question callback to fire")

	mu.Lock()
	defer mu.Unlock()
	if questions[0] != "Questions/why.md" {
		t.Errorf("question path = %q", questions[0])
	}
	if fake.upsertCount() != 0 {
		t.Errorf("question notes must not be indexed, got %d upserts", fake.upsertCount())
	}
}
