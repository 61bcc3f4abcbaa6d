package server

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
)

// toSDKTool converts a domain tool to the SDK representation. The input
// schema is carried as raw JSON; the SDK parses it lazily.
func toSDKTool(t mux.Tool) (mcp.Tool, error) {
	sdkTool := mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema != nil {
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return mcp.Tool{}, fmt.Errorf("failed to marshal schema for tool %s: %w", t.Name, err)
		}
		sdkTool.RawInputSchema = schemaJSON
	}
	return sdkTool, nil
}

// toSDKResult converts a domain tool call result to the SDK representation.
//
// The SDK has no tool_reference content type, so reference blocks are
// rendered as text blocks carrying the reference as canonical JSON. Clients
// that understand references parse the JSON; everything else still gets a
// readable result.
func toSDKResult(result *mux.ToolCallResult) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(result.Content))
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			content = append(content, mcp.NewTextContent(block.Text))
		case "tool_reference":
			raw, err := json.Marshal(block)
			if err != nil {
				logger.Warnw("failed to encode tool reference", "tool", block.Name, "error", err)
				content = append(content, mcp.NewTextContent(block.Name+": "+block.Description))
				continue
			}
			content = append(content, mcp.NewTextContent(string(raw)))
		default:
			content = append(content, mcp.NewTextContent(block.Text))
		}
	}
	return &mcp.CallToolResult{
		Content: content,
		IsError: result.IsError,
	}
}
