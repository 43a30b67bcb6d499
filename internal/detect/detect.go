// Package detect determines continuation roles from raw transcript content.
//
// A session that resumed an earlier session's compacted context begins its
// transcript with a compaction-boundary marker embedding the earlier
// session's id. A session whose own context was compacted carries markers
// embedding its own id, whose free text may name the successor session.
// Detection is a single streaming pass; nothing about the transcript is
// trusted to be well formed.
package detect

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hfolsom/lineage/internal/session"
)

// maxLineBytes bounds one transcript event; compaction summaries run long.
const maxLineBytes = 1024 * 1024

var uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Detection is the outcome of scanning one session's transcript.
type Detection struct {
	SessionID      string    `json:"session_id"`
	IsChild        bool      `json:"is_child"`
	ParentID       string    `json:"parent_id,omitempty"`
	ChildStartedAt time.Time `json:"child_started_at"`
	IsParent       bool      `json:"is_parent"`
	SuccessorID    string    `json:"successor_id,omitempty"`
}

// marker is one compaction-boundary event, reduced to the fields detection
// needs regardless of which historical shape carried them.
type marker struct {
	embeddedID string
	text       string
	timestamp  time.Time
}

// Scan performs the streaming detection pass over one transcript.
//
// The first marker embedding an id other than ownID makes the session a
// child of that id; later mismatching markers belong to deeper ancestry or
// the session's own later compactions and are ignored. Markers embedding
// ownID mark the session a parent; when several of those name a successor,
// the last one wins. Malformed and blank lines are skipped.
func Scan(ownID string, r io.Reader) Detection {
	if id, err := session.Normalize(ownID); err == nil {
		ownID = id
	}
	det := Detection{SessionID: ownID}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m, ok := parseMarker(line)
		if !ok {
			continue
		}

		if m.embeddedID != ownID {
			if !det.IsChild {
				det.IsChild = true
				det.ParentID = m.embeddedID
				det.ChildStartedAt = m.timestamp
			}
			continue
		}

		det.IsParent = true
		if succ := findSuccessorID(m.text, ownID); succ != "" {
			det.SuccessorID = succ
		}
	}
	// Scanner errors (oversized line, read failure mid-stream) end the pass
	// with whatever was detected so far.

	return det
}

// ScanFile scans the transcript at path. The returned Detection is always
// usable; a missing or unreadable transcript yields the negative result and
// the error reports why for batch accounting.
func ScanFile(ownID, path string) (Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		det := Detection{SessionID: ownID}
		if id, nerr := session.Normalize(ownID); nerr == nil {
			det.SessionID = id
		}
		return det, err
	}
	defer f.Close()

	return Scan(ownID, f), nil
}

// parseMarker recognizes the two historical compaction-boundary shapes:
// the legacy summary event with a top-level session id, and the current
// system event with subtype compact_boundary carrying compactMetadata.
// A marker without a usable embedded id is not a marker.
func parseMarker(line string) (marker, bool) {
	if !gjson.Valid(line) {
		return marker{}, false
	}

	var m marker
	switch gjson.Get(line, "type").String() {
	case "summary":
		id, ok := session.ExtractID(line)
		if !ok {
			return marker{}, false
		}
		m.embeddedID = id
		m.text = gjson.Get(line, "summary").String()

	case "system":
		if gjson.Get(line, "subtype").String() != "compact_boundary" {
			return marker{}, false
		}
		meta := gjson.Get(line, "compactMetadata")
		if !meta.Exists() {
			return marker{}, false
		}
		id, ok := session.ExtractID(meta.Raw)
		if !ok {
			return marker{}, false
		}
		m.embeddedID = id
		m.text = gjson.Get(line, "content").String()

	default:
		return marker{}, false
	}

	if ts := gjson.Get(line, "timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			m.timestamp = parsed
		}
	}

	return m, true
}

// findSuccessorID returns the first session id embedded in free text that
// is not the session's own, or "".
func findSuccessorID(text, ownID string) string {
	for _, raw := range uuidRe.FindAllString(text, -1) {
		id, err := session.Normalize(raw)
		if err != nil || id == ownID {
			continue
		}
		return id
	}
	return ""
}
