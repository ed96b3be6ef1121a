package mcp

import (
	"context"
	"database/sql"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/chatkeep/internal/config"
)

// Tool types. Disabling a type disables every tool of that type.
const (
	TypeArchive = "archive"
	TypeSync    = "sync"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{TypeArchive, TypeSync}

// toolEntry pairs a tool definition with its type and a handler factory.
type toolEntry struct {
	def     mcp.Tool
	typ     string
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"archive_search": {
		def:     searchToolDef,
		typ:     TypeArchive,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"archive_view": {
		def:     viewToolDef,
		typ:     TypeArchive,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleView },
	},
	"archive_list": {
		def:     listToolDef,
		typ:     TypeArchive,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"archive_history": {
		def:     historyToolDef,
		typ:     TypeSync,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"archive_sync": {
		def:     syncToolDef,
		typ:     TypeSync,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSync },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the type of a registered tool, or "" if the tool is unknown.
func GetTypeForTool(toolName string) string {
	return toolRegistry[toolName].typ
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name, entry := range toolRegistry {
		if typeSet[entry.typ] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// enabledTools returns the registered tool names left after applying
// cfg.DisabledTypes and cfg.DisabledTools.
func enabledTools(cfg *config.Config) []string {
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	var names []string
	for _, name := range AllToolNames() {
		if !disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// NewServer creates a new MCP server with the archive tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chatkeep",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg)
	for _, name := range enabledTools(cfg) {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string) error {
	s := NewServer(db, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
