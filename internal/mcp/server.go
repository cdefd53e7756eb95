package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/pagesearch/internal/index"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name       string
	Version    string
	Store      *index.Store // index to serve; nil registers no tools
	MaxResults int
}

// CreateServer creates the MCP server and registers the corpus search tools
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Store != nil {
		index.RegisterSearchTool(s, cfg.Store, cfg.MaxResults)
		index.RegisterDocumentsTool(s, cfg.Store)
	}

	return s
}
