package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	canonical := "7f3e9d2a-1b4c-4a8e-9f0d-6c5b4a3e2d1f"

	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{canonical, canonical, true},
		{"7F3E9D2A-1B4C-4A8E-9F0D-6C5B4A3E2D1F", canonical, true},
		{"  " + canonical + "  ", canonical, true},
		{"not-a-session-id", "", false},
		{"", "", false},
	}

	for _, c := range cases {
		got, err := Normalize(c.raw)
		if c.ok && err != nil {
			t.Errorf("Normalize(%q) failed: %v", c.raw, err)
		}
		if !c.ok && err == nil {
			t.Errorf("Normalize(%q) succeeded, want error", c.raw)
		}
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

// TestExtractID covers both historical field spellings for the session id.
func TestExtractID(t *testing.T) {
	id := "7f3e9d2a-1b4c-4a8e-9f0d-6c5b4a3e2d1f"

	newStyle := `{"type":"summary","sessionId":"` + id + `"}`
	if got, ok := ExtractID(newStyle); !ok || got != id {
		t.Errorf("ExtractID(sessionId) = %q, %v; want %q, true", got, ok, id)
	}

	oldStyle := `{"type":"summary","session_id":"` + id + `"}`
	if got, ok := ExtractID(oldStyle); !ok || got != id {
		t.Errorf("ExtractID(session_id) = %q, %v; want %q, true", got, ok, id)
	}

	upper := `{"sessionId":"` + "7F3E9D2A-1B4C-4A8E-9F0D-6C5B4A3E2D1F" + `"}`
	if got, ok := ExtractID(upper); !ok || got != id {
		t.Errorf("ExtractID(uppercase) = %q, %v; want normalized %q", got, ok, id)
	}

	if _, ok := ExtractID(`{"type":"user","message":"hello"}`); ok {
		t.Error("ExtractID found an id in an event that has none")
	}
	if _, ok := ExtractID(`{"sessionId":"garbage"}`); ok {
		t.Error("ExtractID accepted a malformed id")
	}
}

func TestDiscover(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "session-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	idA := "11111111-1111-4111-8111-111111111111"
	idB := "22222222-2222-4222-8222-222222222222"

	projDir := filepath.Join(tmpDir, "-home-user-work")
	if err := os.MkdirAll(projDir, 0755); err != nil {
		t.Fatalf("Failed to create project dir: %v", err)
	}

	for _, name := range []string{idA + ".jsonl", idB + ".jsonl", "notes.jsonl", "README.md"} {
		if err := os.WriteFile(filepath.Join(projDir, name), []byte("{}\n"), 0644); err != nil {
			t.Fatalf("Failed to write fixture: %v", err)
		}
	}

	records, err := Discover(tmpDir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Discover returned %d records, want 2", len(records))
	}
	if records[0].ID != idA || records[1].ID != idB {
		t.Errorf("Discover order = %s, %s; want %s, %s", records[0].ID, records[1].ID, idA, idB)
	}
	for _, r := range records {
		if r.Project != "-home-user-work" {
			t.Errorf("record %s has project %q", r.ID, r.Project)
		}
		if r.TranscriptPath == "" || r.FirstSeen.IsZero() {
			t.Errorf("record %s missing path or first_seen", r.ID)
		}
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	records, err := Discover(filepath.Join(os.TempDir(), "does-not-exist-anywhere"))
	if err != nil {
		t.Fatalf("Discover on missing dir should not fail: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Discover on missing dir returned %d records", len(records))
	}
}
