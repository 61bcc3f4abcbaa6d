// Package builtin implements the virtual tools the proxy injects into every
// deferred-loading endpoint: search_tools for discovery and execute_tool for
// dispatch by public name.
package builtin

import "github.com/mcpmux/mcpmux/pkg/mux"

// Public names of the built-in tools. Dispatch guards compare against these
// names directly; built-ins are never detected through metadata.
const (
	SearchToolsName = "search_tools"
	ExecuteToolName = "execute_tool"
)

// IsBuiltin reports whether name belongs to a built-in tool.
func IsBuiltin(name string) bool {
	return name == SearchToolsName || name == ExecuteToolName
}

// SearchToolsDefinition returns the advertised definition of search_tools.
func SearchToolsDefinition() mux.Tool {
	return mux.Tool{
		Name: SearchToolsName,
		Description: "Search for available tools by name or description. " +
			"Returns tool references ranked by relevance.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"query"},
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query matched against tool names and descriptions.",
				},
				"max_results": map[string]any{
					"type":        "number",
					"minimum":     float64(mux.MinConfiguredResults),
					"maximum":     float64(mux.MaxConfiguredResults),
					"description": "Maximum number of results to return.",
				},
			},
		},
	}
}

// ExecuteToolDefinition returns the advertised definition of execute_tool.
func ExecuteToolDefinition() mux.Tool {
	return mux.Tool{
		Name: ExecuteToolName,
		Description: "Execute a tool by its full name. Use search_tools first " +
			"to discover tool names and their expected arguments.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"tool_name", "arguments"},
			"properties": map[string]any{
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Full name of the tool to execute.",
				},
				"arguments": map[string]any{
					"type":                 "object",
					"additionalProperties": true,
					"description":          "Arguments passed through to the tool.",
				},
			},
		},
	}
}
