package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalLog(t *testing.T) {
	tmpDir := t.TempDir()
	j := New(filepath.Join(tmpDir, "journal.jsonl"))

	if err := j.LogScan(10, 3, 2, 1, 250*time.Millisecond); err != nil {
		t.Fatalf("LogScan failed: %v", err)
	}
	if err := j.LogHeal(2, 1, 0, 40*time.Millisecond); err != nil {
		t.Fatalf("LogHeal failed: %v", err)
	}

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Type != EntryScan || entries[0].Scanned != 10 {
		t.Errorf("scan entry wrong: %+v", entries[0])
	}
	if entries[1].Type != EntryHeal || entries[1].Healed != 1 {
		t.Errorf("heal entry wrong: %+v", entries[1])
	}
	if entries[0].DurationMS != 250 {
		t.Errorf("duration = %d, want 250", entries[0].DurationMS)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}

	// Recent(n) keeps the newest entries.
	last, err := j.Recent(1)
	if err != nil {
		t.Fatalf("Recent(1) failed: %v", err)
	}
	if len(last) != 1 || last[0].Type != EntryHeal {
		t.Errorf("Recent(1) = %+v, want just the heal entry", last)
	}
}

func TestRecentSkipsMalformedLines(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "journal.jsonl")
	j := New(path)

	if err := j.LogScan(1, 0, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("LogScan failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	f.WriteString("not json\n")
	f.Close()
	if err := j.LogScan(2, 0, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("LogScan failed: %v", err)
	}

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2 with the bad line skipped", len(entries))
	}
}

func TestRecentMissingFile(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "journal.jsonl"))

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent on missing file failed: %v", err)
	}
	if entries != nil {
		t.Errorf("got %+v, want nil", entries)
	}
}

func TestToday(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "journal.jsonl"))

	stale := Entry{Type: EntryScan, Scanned: 5, Timestamp: time.Now().AddDate(0, 0, -2)}
	if err := j.Log(stale); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := j.LogScan(7, 0, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("LogScan failed: %v", err)
	}

	entries, err := j.Today()
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Scanned != 7 {
		t.Errorf("Today = %+v, want only the fresh scan", entries)
	}
}
