package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"reel_share": {
		def:     shareToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShare },
	},
	"reel_select": {
		def:     selectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSelect },
	},
	"reel_cancel": {
		def:     cancelToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCancel },
	},
	"reel_pending": {
		def:     pendingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePending },
	},
	"reel_classify": {
		def:     classifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClassify },
	},
	"reel_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"reel_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"reel_delete": {
		def:     deleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"reel_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"category_list": {
		def:     categoryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryList },
	},
	"category_add": {
		def:     categoryAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryAdd },
	},
	"category_remove": {
		def:     categoryRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCategoryRemove },
	},
	"settings_get": {
		def:     settingsGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsGet },
	},
	"settings_set": {
		def:     settingsSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsSet },
	},
	"credential_set": {
		def:     credentialSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCredentialSet },
	},
	"credential_status": {
		def:     credentialStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCredentialStatus },
	},
	"classifier_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
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

// NewServer creates a new MCP server with reelnote tools registered.
// Tools listed in disabledTools are excluded from registration.
func NewServer(h *Handlers, disabledTools []string, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"reelnote",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool, len(disabledTools))
	for _, name := range disabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(h *Handlers, disabledTools []string, version string) error {
	return server.ServeStdio(NewServer(h, disabledTools, version))
}
