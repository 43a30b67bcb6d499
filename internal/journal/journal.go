// Package journal keeps an append-only JSONL history of scan and heal runs.
package journal

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// EntryType identifies what kind of journal entry this is
type EntryType string

const (
	EntryScan EntryType = "scan" // full transcript scan completed
	EntryHeal EntryType = "heal" // orphan healing pass completed
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	Type       EntryType `json:"type"`
	Scanned    int       `json:"scanned,omitempty"`
	Children   int       `json:"children,omitempty"`
	Parents    int       `json:"parents,omitempty"`
	Checked    int       `json:"checked,omitempty"`
	Healed     int       `json:"healed,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Journal writes run history to a JSONL file
type Journal struct {
	path string
	mu   sync.Mutex
}

// New creates a journal writer for the given file path
func New(path string) *Journal {
	return &Journal{path: path}
}

// Log writes an entry to the journal
func (j *Journal) Log(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogScan records one completed transcript scan
func (j *Journal) LogScan(scanned, children, parents, failed int, took time.Duration) error {
	return j.Log(Entry{
		Type:       EntryScan,
		Scanned:    scanned,
		Children:   children,
		Parents:    parents,
		Failed:     failed,
		DurationMS: took.Milliseconds(),
	})
}

// LogHeal records one completed orphan healing pass
func (j *Journal) LogHeal(checked, healed, failed int, took time.Duration) error {
	return j.Log(Entry{
		Type:       EntryHeal,
		Checked:    checked,
		Healed:     healed,
		Failed:     failed,
		DurationMS: took.Milliseconds(),
	})
}

// Recent returns the last n entries from the journal
func (j *Journal) Recent(n int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}

	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Today returns entries from today
func (j *Journal) Today() ([]Entry, error) {
	entries, err := j.Recent(1000) // reasonable limit
	if err != nil {
		return nil, err
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var todayEntries []Entry
	for _, e := range entries {
		if e.Timestamp.After(today) || e.Timestamp.Equal(today) {
			todayEntries = append(todayEntries, e)
		}
	}
	return todayEntries, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
