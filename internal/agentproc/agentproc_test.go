package agentproc

import "testing"

func TestSessionIDFromCmdline(t *testing.T) {
	id := "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"

	cases := []struct {
		cmdline string
		want    string
	}{
		{"claude --resume " + id, id},
		{"claude --resume '" + id + "'", id},
		{"node /usr/bin/claude /home/u/.claude/projects/p/" + id + ".jsonl", id},
		{"claude", ""},
		{"claude --help", ""},
	}
	for _, c := range cases {
		if got := sessionIDFromCmdline(c.cmdline); got != c.want {
			t.Errorf("sessionIDFromCmdline(%q) = %q, want %q", c.cmdline, got, c.want)
		}
	}
}
