package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
)

// upstreamTimeout bounds every upstream HTTP exchange.
const upstreamTimeout = 30 * time.Second

// HTTPUpstream speaks MCP over streamable HTTP to the upstream servers of a
// namespace. It implements both ToolSource and Dispatcher, keyed by server
// UUID, with the URL of each server registered up front.
type HTTPUpstream struct {
	mu   sync.RWMutex
	urls map[string]string

	// clientFactory creates MCP clients for upstream servers. Abstracted as
	// a function to enable testing with mock clients.
	clientFactory func(ctx context.Context, baseURL string) (*client.Client, error)
}

var (
	_ ToolSource = (*HTTPUpstream)(nil)
	_ Dispatcher = (*HTTPUpstream)(nil)
)

// NewHTTPUpstream creates an upstream client with no registered servers.
func NewHTTPUpstream() *HTTPUpstream {
	u := &HTTPUpstream{urls: make(map[string]string)}
	u.clientFactory = defaultClientFactory
	return u
}

// RegisterServer maps a server UUID to its streamable HTTP base URL.
func (u *HTTPUpstream) RegisterServer(serverUUID, baseURL string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.urls[serverUUID] = baseURL
}

func (u *HTTPUpstream) urlFor(serverUUID string) (string, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	baseURL, ok := u.urls[serverUUID]
	if !ok {
		return "", fmt.Errorf("upstream server %s: %w", serverUUID, mux.ErrNotFound)
	}
	return baseURL, nil
}

func defaultClientFactory(ctx context.Context, baseURL string) (*client.Client, error) {
	httpClient := &http.Client{Timeout: upstreamTimeout}
	c, err := client.NewStreamableHttpClient(
		baseURL,
		transport.WithHTTPTimeout(upstreamTimeout),
		transport.WithHTTPBasicClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable-http client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start client connection: %w", err)
	}
	return c, nil
}

// connect dials and initializes a session with one upstream server.
func (u *HTTPUpstream) connect(ctx context.Context, serverUUID string) (*client.Client, error) {
	baseURL, err := u.urlFor(serverUUID)
	if err != nil {
		return nil, err
	}

	c, err := u.clientFactory(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "mcpmux",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		closeClient(c)
		return nil, fmt.Errorf("failed to initialize session with server %s: %w", serverUUID, err)
	}
	return c, nil
}

func closeClient(c *client.Client) {
	if err := c.Close(); err != nil {
		logger.Debugf("Failed to close upstream client: %v", err)
	}
}

// Definitions implements ToolSource by listing the server's tools over MCP.
func (u *HTTPUpstream) Definitions(ctx context.Context, serverUUID string) (map[string]mux.Tool, error) {
	c, err := u.connect(ctx, serverUUID)
	if err != nil {
		return nil, err
	}
	defer closeClient(c)

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from server %s: %w", serverUUID, err)
	}

	defs := make(map[string]mux.Tool, len(result.Tools))
	for _, tool := range result.Tools {
		defs[tool.Name] = mux.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		}
	}
	return defs, nil
}

// schemaToMap flattens the SDK's typed input schema into the generic form the
// rest of the pipeline consumes.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// Dispatch implements Dispatcher by forwarding one tool call upstream. The
// tool name here is the raw upstream name, not the public prefixed one.
func (u *HTTPUpstream) Dispatch(ctx context.Context, serverUUID, toolName string, arguments map[string]any) (*mux.ToolCallResult, error) {
	c, err := u.connect(ctx, serverUUID)
	if err != nil {
		return nil, err
	}
	defer closeClient(c)

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed on server %s: %w", serverUUID, err)
	}

	content := make([]mux.ContentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			content = append(content, mux.TextBlock(text.Text))
			continue
		}
		logger.Debugw("dropping non-text content block from upstream result",
			"server", serverUUID, "tool", toolName)
	}
	return &mux.ToolCallResult{Content: content, IsError: result.IsError}, nil
}
