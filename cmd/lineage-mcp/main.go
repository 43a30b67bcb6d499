// lineage-mcp exposes continuation chain queries as MCP tools over stdio,
// so agents can ask about their own session lineage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hfolsom/lineage/internal/config"
	"github.com/hfolsom/lineage/internal/service"
)

func main() {
	// Load .env - try executable's parent dir (repo root), then exe dir, then cwd
	envPaths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		envPaths = append([]string{
			filepath.Join(filepath.Dir(exeDir), ".env"),
			filepath.Join(exeDir, ".env"),
		}, envPaths...)
	}
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	svc, err := service.Open(config.Load())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	s := server.NewMCPServer(
		"lineage-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(chainTool(), handleChain(svc))
	s.AddTool(metadataTool(), handleMetadata(svc))
	s.AddTool(statsTool(), handleStats(svc))
	s.AddTool(orphansTool(), handleOrphans(svc))
	s.AddTool(healTool(), handleHeal(svc))
	s.AddTool(scanTool(), handleScan(svc))
	s.AddTool(highlightTool(), handleHighlight(svc))
	s.AddTool(pathTool(), handlePath(svc))
	s.AddTool(historyTool(), handleHistory(svc))

	// Run server
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// result converts a service envelope into an MCP tool result.
func result(env service.Envelope) (*mcp.CallToolResult, error) {
	if !env.Success {
		return mcp.NewToolResultError(env.Error), nil
	}
	output, err := json.MarshalIndent(env.Payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

// sessionArg pulls the session_id argument out of a tool request.
func sessionArg(req mcp.CallToolRequest) (string, bool) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["session_id"].(string)
	return id, id != ""
}

func chainTool() mcp.Tool {
	return mcp.NewTool("chain_for_session",
		mcp.WithDescription("Resolve the continuation chain containing a session: its root, the root's direct children, every descendant with depth/order/active flags, and whether the chain branches."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID (UUID) of any chain member"),
		),
	)
}

func handleChain(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := sessionArg(req)
		if !ok {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		return result(svc.ChainForSession(id))
	}
}

func metadataTool() mcp.Tool {
	return mcp.NewTool("session_metadata",
		mcp.WithDescription("Cheap chain facts for one session (root, depth, child/parent flags, child count) without building the full tree. found=false means the session is not part of any chain."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID (UUID)"),
		),
	)
}

func handleMetadata(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := sessionArg(req)
		if !ok {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		return result(svc.Metadata(id))
	}
}

func statsTool() mcp.Tool {
	return mcp.NewTool("chain_stats",
		mcp.WithDescription("Global continuation statistics: session and edge counts, distinct chains, max depth, average chain length, orphan count, and live agent processes."),
	)
}

func handleStats(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(svc.Stats())
	}
}

func orphansTool() mcp.Tool {
	return mcp.NewTool("list_orphans",
		mcp.WithDescription("List continuation edges whose declared parent session has no record, with each child's project and transcript location."),
	)
}

func handleOrphans(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(svc.Orphans())
	}
}

func healTool() mcp.Tool {
	return mcp.NewTool("heal_orphans",
		mcp.WithDescription("Re-scan orphaned edges and repair those whose parent session has since appeared. Safe to run repeatedly; each pass is idempotent."),
	)
}

func handleHeal(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(svc.Heal())
	}
}

func scanTool() mcp.Tool {
	return mcp.NewTool("scan_transcripts",
		mcp.WithDescription("Discover all transcripts, detect continuation markers, and persist the resulting parent/child edges. Returns scan counts."),
	)
}

func handleScan(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(svc.Scan())
	}
}

func highlightTool() mcp.Tool {
	return mcp.NewTool("compute_highlight",
		mcp.WithDescription("Compute focus-relative facts for every member of the chain containing a session: 1-indexed position, role (clicked/ancestor/descendant/sibling), and signed distance."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID (UUID) to focus on"),
		),
	)
}

func handleHighlight(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := sessionArg(req)
		if !ok {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		return result(svc.Highlight(id))
	}
}

func pathTool() mcp.Tool {
	return mcp.NewTool("chain_path",
		mcp.WithDescription("Root-to-session path through the chain, with every branch point passed (fork depth and the full ordered sibling group) and whether the path follows the active branch."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID (UUID) to trace"),
		),
	)
}

func handlePath(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := sessionArg(req)
		if !ok {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		return result(svc.Path(id))
	}
}

func historyTool() mcp.Tool {
	return mcp.NewTool("scan_history",
		mcp.WithDescription("Recent scan and heal journal entries, oldest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return. Default: 20"),
		),
	)
}

func handleHistory(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		limit := 20
		if l, ok := args["limit"].(float64); ok {
			limit = int(l)
		}
		return result(svc.History(limit))
	}
}
