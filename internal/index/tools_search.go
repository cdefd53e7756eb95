package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/pagesearch/internal/domain"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query string `json:"query" jsonschema_description:"Search query (supports phrases, boolean operators and fuzzy terms like 'term~1')"`
}

// SearchHandler handles the search_pages MCP tool.
type SearchHandler struct {
	engine     *Engine
	maxResults int
}

// NewSearchHandler creates a new search handler over the given store.
func NewSearchHandler(store *Store, maxResults int) *SearchHandler {
	return &SearchHandler{
		engine:     NewEngine(store),
		maxResults: maxResults,
	}
}

// Handle executes the search and returns matching lines grouped by document.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Query cannot be empty"},
			},
			IsError: true,
		}, nil, nil
	}

	hits, err := h.engine.Search(ctx, args.Query)
	if err != nil {
		text := fmt.Sprintf("Search failed: %s", err)
		if errors.Is(err, ErrIndexNotFound) {
			text = "No index found. Build the index first."
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: text},
			},
			IsError: true,
		}, nil, nil
	}

	return h.formatResults(hits, args.Query), nil, nil
}

// formatResults renders grouped, highlighted results for the MCP response.
func (h *SearchHandler) formatResults(hits []domain.QueryHit, queryStr string) *mcp.CallToolResult {
	if len(hits) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("No results found for query: %s", queryStr)},
			},
		}
	}

	groups := GroupByDocument(hits)
	SortGroups(groups)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d lines matching the query in %d documents.\n\n", len(hits), len(groups)))

	rendered := 0
	for _, group := range groups {
		if rendered >= h.maxResults {
			break
		}
		sb.WriteString(fmt.Sprintf("### %s (%d matching lines)\n", group.DocumentPath, group.NumLines()))
		for _, hit := range group.Lines {
			if rendered >= h.maxResults {
				break
			}
			sb.WriteString(fmt.Sprintf("- %s\n", Highlight(hit.Line.Content, hit.MatchedTerms)))
			rendered++
		}
		sb.WriteString("\n")
	}

	if len(hits) > rendered {
		sb.WriteString(fmt.Sprintf("... and %d more matching lines\n", len(hits)-rendered))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: sb.String()},
		},
	}
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_pages",
		Description: "Search transcribed page text across the indexed corpus using full-text search",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, store *Store, maxResults int) {
	handler := NewSearchHandler(store, maxResults)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
