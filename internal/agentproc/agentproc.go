// Package agentproc discovers running agent CLI processes so consumers can
// tell which recorded sessions are still live.
package agentproc

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hfolsom/lineage/internal/session"
)

// LiveSession is one running agent process, with the session id recovered
// from its command line when present.
type LiveSession struct {
	PID       int32  `json:"pid"`
	SessionID string `json:"session_id,omitempty"`
}

// Live returns the agent processes currently running. Enumeration failures
// degrade to an empty result; liveness is advisory, never load-bearing.
func Live() []LiveSession {
	var result []LiveSession

	procs, err := process.Processes()
	if err != nil {
		return result
	}

	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		cmdline, _ := proc.Cmdline()

		if !strings.Contains(strings.ToLower(name), "claude") &&
			!strings.Contains(strings.ToLower(cmdline), "claude") {
			continue
		}
		// Exclude our own tooling.
		if strings.Contains(cmdline, "lineage") {
			continue
		}

		result = append(result, LiveSession{
			PID:       proc.Pid,
			SessionID: sessionIDFromCmdline(cmdline),
		})
	}

	return result
}

// LiveSessionIDs returns the set of session ids with a running process.
func LiveSessionIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, ls := range Live() {
		if ls.SessionID != "" {
			ids[ls.SessionID] = true
		}
	}
	return ids
}

// sessionIDFromCmdline pulls the first session id shaped token out of a
// command line. Resumed sessions carry their id as an argument; fresh ones
// carry none.
func sessionIDFromCmdline(cmdline string) string {
	for _, field := range strings.Fields(cmdline) {
		field = strings.Trim(field, `"'`)
		// Ids can also ride inside a transcript path argument.
		if i := strings.LastIndexByte(field, '/'); i >= 0 {
			field = field[i+1:]
		}
		field = strings.TrimSuffix(field, ".jsonl")
		if id, err := session.Normalize(field); err == nil {
			return id
		}
	}
	return ""
}
