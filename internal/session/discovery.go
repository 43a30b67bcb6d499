package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultProjectsDir returns the conventional transcript location
// (~/.claude/projects), or "" when the home directory is unknown.
func DefaultProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// Discover walks projectsDir for session transcripts. Each project is a
// directory holding one <session-id>.jsonl file per session; files whose
// name is not a valid session id are skipped.
func Discover(projectsDir string) ([]Record, error) {
	if projectsDir == "" {
		return nil, fmt.Errorf("projects directory not set")
	}

	matches, err := filepath.Glob(filepath.Join(projectsDir, "*", "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects dir: %w", err)
	}

	var records []Record
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		id, err := Normalize(strings.TrimSuffix(filepath.Base(path), ".jsonl"))
		if err != nil {
			continue
		}

		records = append(records, Record{
			ID:             id,
			Project:        filepath.Base(filepath.Dir(path)),
			TranscriptPath: path,
			FirstSeen:      info.ModTime(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Project != records[j].Project {
			return records[i].Project < records[j].Project
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}
