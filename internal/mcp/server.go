package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/ace-mcp-api/internal/codeindex"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name      string
	Version   string
	CodeIndex *codeindex.Service
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.CodeIndex != nil {
		RegisterSearchTool(s, cfg.CodeIndex)
		RegisterRetrieveTool(s, cfg.CodeIndex)
		RegisterListProjectsTool(s, cfg.CodeIndex)
	}

	return s
}
