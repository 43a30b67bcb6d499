package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hfolsom/lineage/internal/config"
	"github.com/hfolsom/lineage/internal/journal"
	"github.com/hfolsom/lineage/internal/logging"
	"github.com/hfolsom/lineage/internal/resolver"
	"github.com/hfolsom/lineage/internal/service"
)

func main() {
	if err := godotenv.Load(); err == nil {
		logging.Debug("config", "loaded .env file")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg := config.Load()
	svc, err := service.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	args := os.Args[2:]
	switch cmd {
	case "scan":
		handleScan(svc, args)
	case "chain":
		handleChain(svc, args)
	case "meta":
		handleMeta(svc, args)
	case "stats":
		handleStats(svc, args)
	case "orphans":
		handleOrphans(svc, args)
	case "heal":
		handleHeal(svc, args)
	case "path":
		handlePath(svc, args)
	case "highlight":
		handleHighlight(svc, args)
	case "history":
		handleHistory(svc, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`lineage - continuation chain tracking for recorded agent sessions

Usage: lineage <command> [options]

Commands:
  scan [--projects DIR] [--workers N]
                       Scan all transcripts and persist continuation edges
  chain <id>           Show the full chain containing a session
  meta <id>            Cheap chain facts for one session (no tree build)
  stats                Global chain statistics
  orphans              List edges whose parent session is unknown
  heal                 Re-scan orphaned edges and repair what has appeared
  path <id>            Root-to-session path with branch points
  highlight <id>       Focus-relative roles for every chain member
  history [-n N]       Recent scan/heal journal entries

Options:
  --json               Emit the full response envelope as JSON

Environment:
  LINEAGE_CONFIG       Optional YAML config file
  LINEAGE_DB           Database path (default: ~/.lineage/lineage.db)
  LINEAGE_PROJECTS     Transcript root (default: ~/.claude/projects)
  LINEAGE_JOURNAL      Journal path (default: ~/.lineage/journal.jsonl)
  LINEAGE_WORKERS      Scan parallelism (default: 4)
  LINEAGE_MAX_DEPTH    Chain depth bound (default: 100)
  LINEAGE_DEBUG        Set to "true" for debug logging`)
}

// emit prints the envelope: JSON verbatim, or the human renderer on success.
// Failed envelopes exit nonzero either way.
func emit(env service.Envelope, asJSON bool, human func(payload any)) {
	if asJSON {
		data, _ := json.MarshalIndent(env, "", "  ")
		fmt.Println(string(data))
		if !env.Success {
			os.Exit(1)
		}
		return
	}
	if !env.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", env.Error)
		os.Exit(1)
	}
	human(env.Payload)
}

// requireArg returns the one positional argument a command needs.
func requireArg(fs *flag.FlagSet, name string) string {
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: lineage %s <session-id>\n", name)
		os.Exit(1)
	}
	return fs.Arg(0)
}

func handleScan(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	projects := fs.String("projects", "", "Override the transcript root for this scan")
	workers := fs.Int("workers", 0, "Override scan parallelism")
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)

	emit(svc.ScanWith(*projects, *workers), *jsonOut, func(payload any) {
		scan := payload.(*service.ScanPayload)
		fmt.Printf("Sessions:  %d\n", scan.Sessions)
		fmt.Printf("Scanned:   %d (%d failed)\n", scan.Scanned, scan.Failed)
		fmt.Printf("Children:  %d\n", scan.Children)
		fmt.Printf("Parents:   %d\n", scan.Parents)
		fmt.Printf("Edges:     %d written, %d orphaned, %d skipped\n", scan.EdgesWritten, scan.Orphaned, scan.Skipped)
		fmt.Printf("Live:      %d session(s) still being written\n", scan.LiveSessions)
		fmt.Printf("Took:      %dms\n", scan.DurationMS)
	})
}

func handleChain(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("chain", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)
	id := requireArg(fs, "chain")

	emit(svc.ChainForSession(id), *jsonOut, func(payload any) {
		chain := payload.(*service.ChainPayload)
		fmt.Printf("Root:      %s\n", chain.RootID)
		fmt.Printf("Sessions:  %d  Depth: %d  Branches: %v\n", chain.TotalSessions, chain.Depth, chain.HasBranches)
		fmt.Println(chain.RootID)
		for _, d := range chain.Descendants {
			marker := ""
			if d.IsActive {
				marker = " *"
			}
			fmt.Printf("%s%s%s\n", strings.Repeat("  ", d.Depth), d.SessionID, marker)
		}
	})
}

func handleMeta(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)
	id := requireArg(fs, "meta")

	emit(svc.Metadata(id), *jsonOut, func(payload any) {
		meta := payload.(*service.MetadataPayload)
		if !meta.Found {
			fmt.Printf("%s is not part of any chain\n", meta.SessionID)
			return
		}
		fmt.Printf("Root:      %s\n", meta.RootID)
		fmt.Printf("Depth:     %d\n", meta.DepthFromRoot)
		fmt.Printf("Child:     %v  Parent: %v\n", meta.IsChild, meta.IsParent)
		fmt.Printf("Children:  %d\n", meta.ChildCount)
	})
}

func handleStats(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)

	emit(svc.Stats(), *jsonOut, func(payload any) {
		stats := payload.(*service.StatsPayload)
		fmt.Printf("Sessions:  %d\n", stats.Sessions)
		fmt.Printf("Edges:     %d\n", stats.TotalEdges)
		fmt.Printf("Chains:    %d (max depth %d, avg length %.1f)\n", stats.TotalChains, stats.MaxDepth, stats.AvgChainLength)
		fmt.Printf("Orphans:   %d\n", stats.OrphanCount)
		fmt.Printf("Live:      %d agent processes\n", stats.LiveAgents)
	})
}

func handleOrphans(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("orphans", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)

	emit(svc.Orphans(), *jsonOut, func(payload any) {
		orphans := payload.(*service.OrphansPayload)
		if orphans.Count == 0 {
			fmt.Println("No orphaned edges")
			return
		}
		for _, o := range orphans.Orphans {
			fmt.Printf("%s -> %s (missing)  [%s]\n", o.ChildID, o.ParentID, o.Project)
		}
		fmt.Printf("%d orphaned edge(s)\n", orphans.Count)
	})
}

func handleHeal(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("heal", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)

	emit(svc.Heal(), *jsonOut, func(payload any) {
		result := payload.(resolver.HealResult)
		fmt.Printf("Checked: %d  Healed: %d  Failed: %d\n", result.Checked, result.Healed, result.Failed)
	})
}

func handlePath(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("path", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)
	id := requireArg(fs, "path")

	emit(svc.Path(id), *jsonOut, func(payload any) {
		path := payload.(*service.PathPayload)
		fmt.Println(strings.Join(path.IDs, " -> "))
		for _, bp := range path.BranchPoints {
			fmt.Printf("  fork at depth %d: %s\n", bp.Depth, strings.Join(bp.Siblings, ", "))
		}
		if path.OnActivePath {
			fmt.Println("On the active path")
		} else {
			fmt.Println("Off the active path (abandoned branch)")
		}
	})
}

func handleHighlight(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("highlight", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)
	id := requireArg(fs, "highlight")

	emit(svc.Highlight(id), *jsonOut, func(payload any) {
		hl := payload.(*service.HighlightPayload)
		fmt.Printf("Focal: %s (chain of %d)\n", hl.FocalID, len(hl.Members))
		for _, m := range hl.Members {
			root := ""
			if m.IsRoot {
				root = "  root"
			}
			fmt.Printf("%3d. %-10s %+d  %s%s\n", m.Position, m.Role, m.Distance, m.SessionID, root)
		}
	})
}

func handleHistory(svc *service.Service, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of entries to show")
	jsonOut := fs.Bool("json", false, "Emit envelope as JSON")
	fs.Parse(args)

	emit(svc.History(*n), *jsonOut, func(payload any) {
		hist := payload.(*service.JournalPayload)
		if len(hist.Entries) == 0 {
			fmt.Println("No journal entries")
			return
		}
		for _, e := range hist.Entries {
			switch e.Type {
			case journal.EntryHeal:
				fmt.Printf("%s  heal  checked=%d healed=%d failed=%d (%dms)\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Checked, e.Healed, e.Failed, e.DurationMS)
			default:
				fmt.Printf("%s  scan  scanned=%d children=%d parents=%d failed=%d (%dms)\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Scanned, e.Children, e.Parents, e.Failed, e.DurationMS)
			}
		}
	})
}
