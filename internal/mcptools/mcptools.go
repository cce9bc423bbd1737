// Package mcptools exposes the chronicle archive as an MCP server so
// external assistants can query session history over stdio. Three tools are
// registered: "search_chunks" for keyword lookup, "recent_chunks" for the
// session tail, and "ask" for a synthesized answer with supporting context.
package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dungeonarchive/chronicler/internal/retrieve"
	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// defaultLimit is used when a tool call omits its limit argument.
const defaultLimit = 5

// maxLimit caps how many chunks one tool call may return.
const maxLimit = 20

// searchArgs is the input for the "search_chunks" tool.
type searchArgs struct {
	Query     string `json:"query" jsonschema:"keywords or a question to match against transcripts"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict the search to one session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum chunks to return, 1-20, default 5"`
}

// chunkEntry is one archived chunk in a tool result.
type chunkEntry struct {
	ChunkID    int64             `json:"chunk_id"`
	SessionID  string            `json:"session_id"`
	ChunkIndex int               `json:"chunk_index"`
	Transcript string            `json:"transcript"`
	CreatedAt  string            `json:"created_at"`
	Record     *chronicle.Record `json:"record,omitempty"`
}

// searchResult is the output of "search_chunks" and "recent_chunks".
type searchResult struct {
	Chunks []chunkEntry `json:"chunks"`
}

// recentArgs is the input for the "recent_chunks" tool.
type recentArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict to one session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum chunks to return, 1-20, default 5"`
}

// askArgs is the input for the "ask" tool.
type askArgs struct {
	Question  string `json:"question" jsonschema:"a natural language question about the session"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict the answer to one session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum context chunks, 1-20, default 5"`
}

// askResult is the output of the "ask" tool.
type askResult struct {
	Answer  string       `json:"answer"`
	Context []chunkEntry `json:"context"`
}

// Toolset implements the tool handlers over an archive store and a
// retrieval service.
type Toolset struct {
	store     archive.Store
	retriever *retrieve.Service
}

// NewToolset creates a Toolset. Both dependencies are required.
func NewToolset(store archive.Store, retriever *retrieve.Service) (*Toolset, error) {
	if store == nil {
		return nil, fmt.Errorf("mcptools: store is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("mcptools: retriever is required")
	}
	return &Toolset{store: store, retriever: retriever}, nil
}

// NewServer builds an MCP server with all chronicle tools registered.
func NewServer(ts *Toolset) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "chronicler", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_chunks",
		Description: "Search archived session transcripts and structured notes by keyword.",
	}, ts.SearchChunks)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "recent_chunks",
		Description: "List the most recently archived transcript chunks, newest first.",
	}, ts.RecentChunks)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question about the campaign from the session archive.",
	}, ts.Ask)
	return server
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func Serve(ctx context.Context, ts *Toolset) error {
	if err := NewServer(ts).Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcptools: serve: %w", err)
	}
	return nil
}

// SearchChunks handles the "search_chunks" tool.
func (ts *Toolset) SearchChunks(ctx context.Context, req *mcp.CallToolRequest, args searchArgs) (*mcp.CallToolResult, searchResult, error) {
	if args.Query == "" {
		return nil, searchResult{}, fmt.Errorf("mcptools: query must not be empty")
	}
	limit, err := clampLimit(args.Limit)
	if err != nil {
		return nil, searchResult{}, err
	}
	chunks, err := ts.store.SearchChunks(ctx, args.Query, args.SessionID, limit)
	if err != nil {
		return nil, searchResult{}, fmt.Errorf("mcptools: search: %w", err)
	}
	return nil, searchResult{Chunks: toEntries(chunks, true)}, nil
}

// RecentChunks handles the "recent_chunks" tool. Records are not hydrated
// on this path, so entries carry transcripts only.
func (ts *Toolset) RecentChunks(ctx context.Context, req *mcp.CallToolRequest, args recentArgs) (*mcp.CallToolResult, searchResult, error) {
	limit, err := clampLimit(args.Limit)
	if err != nil {
		return nil, searchResult{}, err
	}
	chunks, err := ts.store.RecentChunks(ctx, args.SessionID, limit)
	if err != nil {
		return nil, searchResult{}, fmt.Errorf("mcptools: recent: %w", err)
	}
	return nil, searchResult{Chunks: toEntries(chunks, false)}, nil
}

// Ask handles the "ask" tool.
func (ts *Toolset) Ask(ctx context.Context, req *mcp.CallToolRequest, args askArgs) (*mcp.CallToolResult, askResult, error) {
	if args.Question == "" {
		return nil, askResult{}, fmt.Errorf("mcptools: question must not be empty")
	}
	limit, err := clampLimit(args.Limit)
	if err != nil {
		return nil, askResult{}, err
	}
	res, err := ts.retriever.Answer(ctx, args.Question, args.SessionID, limit)
	if err != nil {
		return nil, askResult{}, fmt.Errorf("mcptools: ask: %w", err)
	}
	return nil, askResult{Answer: res.Answer, Context: toEntries(res.Context, true)}, nil
}

// clampLimit applies the default and validates the range.
func clampLimit(limit int) (int, error) {
	if limit == 0 {
		return defaultLimit, nil
	}
	if limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("mcptools: limit must be between 1 and %d, got %d", maxLimit, limit)
	}
	return limit, nil
}

func toEntries(chunks []archive.Chunk, includeRecord bool) []chunkEntry {
	out := make([]chunkEntry, 0, len(chunks))
	for _, c := range chunks {
		e := chunkEntry{
			ChunkID:    c.ID,
			SessionID:  c.SessionID,
			ChunkIndex: c.Index,
			Transcript: c.Transcript,
			CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if includeRecord {
			rec := c.Record
			rec.Normalize()
			e.Record = &rec
		}
		out = append(out, e)
	}
	return out
}
