package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatchInvalidatorClearsCacheOnWrite(t *testing.T) {
	cat := newTestCatalog(t)

	first, err := cat.ListBrief(context.Background())
	if err != nil {
		t.Fatalf("ListBrief: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(first))
	}

	dir := t.TempDir()
	sentinel := filepath.Join(dir, "sentinel")
	if err := os.WriteFile(sentinel, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed sentinel: %v", err)
	}

	inv, err := StartFileWatchInvalidator(cat, sentinel)
	if err != nil {
		t.Fatalf("StartFileWatchInvalidator: %v", err)
	}
	defer inv.Stop()

	if _, err := cat.db.Exec(`INSERT INTO media (id, title, duration_secs, container_name, content_locator) VALUES ('03', 'Gamma', 50, 'mp4', 'loc3')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.WriteFile(sentinel, []byte("y"), 0o644); err != nil {
		t.Fatalf("touch sentinel: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		rows, err := cat.ListBrief(context.Background())
		if err != nil {
			t.Fatalf("ListBrief: %v", err)
		}
		if len(rows) == 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected cache to observe the new row within the deadline, last saw %d rows", len(rows))
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCronInvalidatorRejectsBadSchedule(t *testing.T) {
	cat := newTestCatalog(t)
	if _, err := StartCronInvalidator(cat, "not-a-schedule"); err == nil {
		t.Fatalf("expected error for malformed cron schedule")
	}
}
