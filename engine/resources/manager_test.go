package resources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

func TestManagerCacheStoreAndGet(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{
		CacheCapacity:      2,
		SpillDirectory:     filepath.Join(tmp, "spill"),
		CheckpointPath:     filepath.Join(tmp, "checkpoint.log"),
		CheckpointInterval: 5 * time.Millisecond,
	}

	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer mgr.Close()

	page := &engmodels.Page{URL: "https://example.com/test", Content: "test content"}
	if err := mgr.StorePage(page.URL, page); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, hit, err := mgr.GetPage(page.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected cache hit")
	}
	if got.Content != "test content" {
		t.Fatalf("expected content 'test content', got %s", got.Content)
	}
}

func TestManagerSpillover(t *testing.T) {
	tmp := t.TempDir()
	spillDir := filepath.Join(tmp, "spill")
	cfg := Config{
		CacheCapacity:      1,
		SpillDirectory:     spillDir,
		CheckpointInterval: 5 * time.Millisecond,
	}

	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer mgr.Close()

	u1, u2 := "https://example.com/1", "https://example.com/2"

	if err := mgr.StorePage(u1, &engmodels.Page{URL: u1, Content: "one"}); err != nil {
		t.Fatalf("store1 failed: %v", err)
	}
	if err := mgr.StorePage(u2, &engmodels.Page{URL: u2, Content: "two"}); err != nil {
		t.Fatalf("store2 failed: %v", err)
	}

	entries, err := os.ReadDir(spillDir)
	if err != nil {
		t.Fatalf("read spill dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected spill entries")
	}

	page, hit, err := mgr.GetPage(u1)
	if err != nil {
		t.Fatalf("get spilled: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit from spill")
	}
	if page.Content != "one" {
		t.Fatalf("expected recovered content 'one', got %s", page.Content)
	}
}

func TestManagerCheckpoint(t *testing.T) {
	tmp := t.TempDir()
	checkpoint := filepath.Join(tmp, "checkpoint.log")

	cfg := Config{
		CacheCapacity:      1,
		CheckpointPath:     checkpoint,
		CheckpointInterval: time.Millisecond,
	}

	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.Checkpoint("https://example.com/a")
	mgr.Checkpoint("https://example.com/b")

	mgr.Close()

	data, err := os.ReadFile(checkpoint)
	if err != nil {
		t.Fatalf("expected checkpoint file, got error: %v", err)
	}

	contents := string(data)
	if !strings.Contains(contents, "https://example.com/a") || !strings.Contains(contents, "https://example.com/b") {
		t.Fatalf("missing checkpoint entries: %s", contents)
	}
}

func TestManagerAcquireRelease(t *testing.T) {
	cfg := Config{MaxInFlight: 1}
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire success: %v", err)
	}

	acquireDone := make(chan error, 1)
	go func() {
		acquireDone <- mgr.Acquire(context.Background())
	}()

	select {
	case <-acquireDone:
		t.Fatalf("expected acquire to block until release")
	case <-time.After(20 * time.Millisecond):
	}

	mgr.Release()

	select {
	case err := <-acquireDone:
		if err != nil {
			t.Fatalf("expected acquire to succeed after release: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("acquire did not complete after release")
	}
}

func TestManagerStatsReportsUsage(t *testing.T) {
	cfg := Config{CacheCapacity: 4, MaxInFlight: 2}
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer mgr.Release()

	if err := mgr.StorePage("https://example.com/x", &engmodels.Page{URL: "https://example.com/x"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	stats := mgr.Stats()
	if stats.CacheEntries != 1 {
		t.Fatalf("expected 1 cache entry, got %d", stats.CacheEntries)
	}
	if stats.InFlight != 1 {
		t.Fatalf("expected 1 in-flight slot, got %d", stats.InFlight)
	}
}
