package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Record identifies one recorded session and where its transcript lives.
type Record struct {
	ID             string    `json:"id"`
	Project        string    `json:"project"`
	TranscriptPath string    `json:"transcript_path"`
	FirstSeen      time.Time `json:"first_seen"`
	LastScanned    time.Time `json:"last_scanned,omitempty"`
}

// Normalize validates a raw session identifier and returns its canonical
// lowercase UUID form.
func Normalize(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", raw, err)
	}
	return id.String(), nil
}

// IsValid reports whether raw parses as a session identifier.
func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// ExtractID pulls the session id out of one transcript event. Older
// transcripts carry it as session_id where newer ones use sessionId; both
// normalize to the same canonical form before any chain logic sees them.
func ExtractID(event string) (string, bool) {
	for _, field := range []string{"sessionId", "session_id"} {
		v := gjson.Get(event, field)
		if !v.Exists() {
			continue
		}
		id, err := Normalize(v.String())
		if err != nil {
			continue
		}
		return id, true
	}
	return "", false
}
