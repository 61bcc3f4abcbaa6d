package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
)

// Caps on the detail included in execute_tool error texts.
const (
	maxListedCandidates       = 10
	maxListedValidationErrors = 10
)

// permissiveSchema accepts any object. Used when a tool carries no input
// schema.
var permissiveSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": true,
}

// ProxyFunc dispatches a validated call to the upstream server owning the
// named tool.
type ProxyFunc func(ctx context.Context, toolName string, arguments map[string]any) (*mux.ToolCallResult, error)

// ExecuteToolHandler answers execute_tool calls: it resolves the target tool
// from the candidate pool, validates arguments against its schema, and
// delegates to the proxy. It never returns an error; every failure mode
// becomes an isError result.
type ExecuteToolHandler struct {
	proxy ProxyFunc
}

// NewExecuteToolHandler creates a handler that dispatches through proxy.
func NewExecuteToolHandler(proxy ProxyFunc) *ExecuteToolHandler {
	return &ExecuteToolHandler{proxy: proxy}
}

// Handle runs one execute_tool invocation against the candidate pool.
func (h *ExecuteToolHandler) Handle(
	ctx context.Context,
	args map[string]any,
	pool []mux.Tool,
) *mux.ToolCallResult {
	toolName, ok := args["tool_name"].(string)
	if !ok {
		return mux.ErrorResult(`Invalid arguments: "tool_name" must be a string`)
	}
	arguments, ok := args["arguments"].(map[string]any)
	if !ok || arguments == nil {
		return mux.ErrorResult(`Invalid arguments: "arguments" must be an object`)
	}

	// Refuse the built-ins by name before any pool lookup. Dispatching to
	// execute_tool would recurse.
	if IsBuiltin(toolName) {
		return mux.ErrorResult(fmt.Sprintf("Cannot execute builtin tool %q", toolName))
	}

	target, found := findTool(pool, toolName)
	if !found {
		return mux.ErrorResult(notFoundText(toolName, pool))
	}

	if result := validateArguments(target, arguments); result != nil {
		return result
	}

	return h.dispatch(ctx, toolName, arguments)
}

// dispatch invokes the proxy, converting errors and panics into isError
// results.
func (h *ExecuteToolHandler) dispatch(ctx context.Context, toolName string, arguments map[string]any) (result *mux.ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic dispatching tool %q: %v", toolName, r)
			result = mux.ErrorResult(fmt.Sprintf("Error executing tool %q: %v", toolName, r))
		}
	}()

	result, err := h.proxy(ctx, toolName, arguments)
	if err != nil {
		return mux.ErrorResult(fmt.Sprintf("Error executing tool %q: %s", toolName, err.Error()))
	}
	return result
}

// findTool returns the pool entry whose public name matches exactly.
func findTool(pool []mux.Tool, name string) (mux.Tool, bool) {
	for _, t := range pool {
		if t.Name == name {
			return t, true
		}
	}
	return mux.Tool{}, false
}

// notFoundText builds the unknown-tool error body: the miss, up to ten
// candidate names, and a pointer at search_tools.
func notFoundText(name string, pool []mux.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q not found.\n", name)

	if len(pool) > 0 {
		b.WriteString("\nAvailable tools:\n")
		listed := len(pool)
		if listed > maxListedCandidates {
			listed = maxListedCandidates
		}
		for _, t := range pool[:listed] {
			fmt.Fprintf(&b, "  - %s\n", t.Name)
		}
		if rest := len(pool) - listed; rest > 0 {
			fmt.Fprintf(&b, "  ... and %d more tools\n", rest)
		}
	}

	b.WriteString("\nUse search_tools to discover available tools.")
	return b.String()
}

// validateArguments checks arguments against the tool's input schema. It
// returns nil when the arguments are valid, otherwise an isError result
// describing up to ten violations and the expected schema.
func validateArguments(tool mux.Tool, arguments map[string]any) *mux.ToolCallResult {
	schema := tool.InputSchema
	if schema == nil {
		schema = permissiveSchema
	}

	var errorLines []string
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(arguments),
	)
	switch {
	case err != nil:
		// A schema that does not compile is reported as one validation
		// error rather than failing the call outright.
		errorLines = []string{fmt.Sprintf("  - (root): Invalid tool schema: %s", err.Error())}
	case result.Valid():
		return nil
	default:
		errorLines = formatValidationErrors(result.Errors())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tool %q arguments validation failed:\n", tool.Name)
	for _, line := range errorLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nExpected input schema:\n")
	b.WriteString(prettySchema(tool.InputSchema))
	return mux.ErrorResult(b.String())
}

// formatValidationErrors renders up to ten validator errors plus an overflow
// hint.
func formatValidationErrors(errs []gojsonschema.ResultError) []string {
	listed := len(errs)
	if listed > maxListedValidationErrors {
		listed = maxListedValidationErrors
	}

	lines := make([]string, 0, listed+1)
	for _, e := range errs[:listed] {
		field := e.Field()
		if field == "" {
			field = "(root)"
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s", field, e.Description()))
	}
	if rest := len(errs) - listed; rest > 0 {
		lines = append(lines, fmt.Sprintf("  ... and %d more errors", rest))
	}
	return lines
}

// prettySchema renders the schema as indented JSON for error texts.
func prettySchema(schema map[string]any) string {
	if schema == nil {
		schema = permissiveSchema
	}
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", schema)
	}
	return string(raw)
}
