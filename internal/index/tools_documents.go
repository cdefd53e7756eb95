package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/pagesearch/internal/domain"
)

// ListDocumentsArgument defines parameters for the document listing tool.
type ListDocumentsArgument struct{}

// DocumentsHandler handles the list_documents MCP tool.
type DocumentsHandler struct {
	store *Store
}

// NewDocumentsHandler creates a new document listing handler.
func NewDocumentsHandler(store *Store) *DocumentsHandler {
	return &DocumentsHandler{store: store}
}

// Handle lists the indexed documents with their line counts.
func (h *DocumentsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ListDocumentsArgument) (*mcp.CallToolResult, any, error) {
	text, err := h.listDocuments(ctx)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			text = "No index found. Build the index first."
		} else {
			text = fmt.Sprintf("Failed to list documents: %s", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: text},
			},
			IsError: true,
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

// listDocuments summarizes the index contents, most lines first.
func (h *DocumentsHandler) listDocuments(ctx context.Context) (summary string, err error) {
	idx, err := h.store.OpenReadOnly()
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := idx.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close index: %w", closeErr)
		}
	}()

	count, err := idx.DocCount()
	if err != nil {
		return "", fmt.Errorf("failed to count indexed lines: %w", err)
	}
	if count == 0 {
		return "The index is empty.", nil
	}

	// A facet over the document path field yields every document with its
	// line count; the index holds at most one facet term per line.
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 0
	req.AddFacet("documents", bleve.NewFacetRequest(domain.LineFieldDocumentPath, int(count)))

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to list documents: %w", err)
	}

	facet, ok := res.Facets["documents"]
	if !ok {
		return "", errors.New("document facet missing from search result")
	}

	terms := facet.Terms.Terms()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("The index contains %d lines from %d documents.\n\n", count, len(terms)))
	for _, term := range terms {
		sb.WriteString(fmt.Sprintf("- %s (%d lines)\n", term.Term, term.Count))
	}

	return sb.String(), nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *DocumentsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_documents",
		Description: "List the indexed documents and how many transcribed lines each contributes",
	}
}

// RegisterDocumentsTool registers the document listing tool with an MCP server.
func RegisterDocumentsTool(server *mcp.Server, store *Store) {
	handler := NewDocumentsHandler(store)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
