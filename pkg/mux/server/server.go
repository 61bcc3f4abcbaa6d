// Package server wires the discovery subsystem into an MCP endpoint: a
// streamable HTTP MCP server exposing the built-in tools, plus a small REST
// surface for the advertise list, the tool-search config API, health, and
// metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/builtin"
	"github.com/mcpmux/mcpmux/pkg/mux/configapi"
	"github.com/mcpmux/mcpmux/pkg/mux/metrics"
	"github.com/mcpmux/mcpmux/pkg/mux/middleware"
	"github.com/mcpmux/mcpmux/pkg/mux/resolver"
	"github.com/mcpmux/mcpmux/pkg/mux/search"
	"github.com/mcpmux/mcpmux/pkg/mux/store"
)

// callerIDHeader identifies the calling principal on the config API.
const callerIDHeader = "X-Caller-ID"

// Config holds the server configuration. One server instance serves one
// endpoint of one namespace.
type Config struct {
	Name    string
	Version string

	Host string
	Port int

	// NamespaceUUID and EndpointUUID select the served endpoint.
	NamespaceUUID string
	EndpointUUID  string

	// AdvertiseExecuteTool also advertises execute_tool next to
	// search_tools.
	AdvertiseExecuteTool bool
}

// Server is one running proxy instance.
type Server struct {
	cfg      Config
	store    store.Store
	upstream Upstream

	resolver       *resolver.CachedResolver
	searchService  *search.Service
	advertiser     *middleware.Advertiser
	searchHandler  *builtin.SearchToolsHandler
	executeHandler *builtin.ExecuteToolHandler
	configAPI      *configapi.Service

	promRegistry *prometheus.Registry
	mcpServer    *mcpserver.MCPServer
}

// New assembles a server from its configuration, store, and upstream view.
func New(cfg Config, st store.Store, upstream Upstream) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "mcpmux"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.NamespaceUUID == "" {
		return nil, fmt.Errorf("%w: namespace UUID is required", mux.ErrInvalidInput)
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	res := resolver.New(st, resolver.WithMetrics(m))
	searchService := search.NewService(search.NewRegistry(), search.WithMetrics(m))

	var advertiserOpts []middleware.Option
	if cfg.AdvertiseExecuteTool {
		advertiserOpts = append(advertiserOpts, middleware.WithExecuteToolAdvertised())
	}

	s := &Server{
		cfg:           cfg,
		store:         st,
		upstream:      upstream,
		resolver:      res,
		searchService: searchService,
		advertiser:    middleware.NewAdvertiser(advertiserOpts...),
		searchHandler: builtin.NewSearchToolsHandler(searchService),
		configAPI:     configapi.NewService(st, configapi.WithInvalidator(res)),
		promRegistry:  promRegistry,
	}
	s.executeHandler = builtin.NewExecuteToolHandler(
		func(ctx context.Context, toolName string, arguments map[string]any) (*mux.ToolCallResult, error) {
			return upstream.CallTool(ctx, cfg.NamespaceUUID, toolName, arguments)
		})

	mcpServer := mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)
	if err := registerBuiltins(mcpServer, s); err != nil {
		return nil, err
	}
	s.mcpServer = mcpServer

	return s, nil
}

// registerBuiltins installs search_tools and execute_tool on the SDK server.
// The built-ins are always callable; advertisement is a separate concern
// handled by the middleware.
func registerBuiltins(mcpServer *mcpserver.MCPServer, s *Server) error {
	searchTool, err := toSDKTool(builtin.SearchToolsDefinition())
	if err != nil {
		return err
	}
	executeTool, err := toSDKTool(builtin.ExecuteToolDefinition())
	if err != nil {
		return err
	}
	mcpServer.AddTool(searchTool, s.handleSearchTools)
	mcpServer.AddTool(executeTool, s.handleExecuteTool)
	return nil
}

// Resolver exposes the resolver for cache management.
func (s *Server) Resolver() *resolver.CachedResolver {
	return s.resolver
}

// requestArguments extracts the arguments object from an SDK request.
func requestArguments(request mcp.CallToolRequest) map[string]any {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

// handleSearchTools answers search_tools calls.
func (s *Server) handleSearchTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.resolver.GetResolvedConfig(ctx, s.cfg.NamespaceUUID, s.cfg.EndpointUUID)

	pool, err := s.upstream.AvailableTools(ctx, s.cfg.NamespaceUUID)
	if err != nil {
		logger.Errorw("failed to aggregate tools", "namespace", s.cfg.NamespaceUUID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list available tools: %v", err)), nil
	}

	result, err := s.searchHandler.Handle(ctx, requestArguments(request), pool, cfg)
	if err != nil {
		// Provider failures are surfaced to the caller, not swallowed.
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toSDKResult(result), nil
}

// handleExecuteTool answers execute_tool calls.
func (s *Server) handleExecuteTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pool, err := s.upstream.AvailableTools(ctx, s.cfg.NamespaceUUID)
	if err != nil {
		logger.Errorw("failed to aggregate tools", "namespace", s.cfg.NamespaceUUID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list available tools: %v", err)), nil
	}

	candidates := make([]mux.Tool, 0, len(pool))
	for _, at := range pool {
		candidates = append(candidates, at.Tool)
	}
	return toSDKResult(s.executeHandler.Handle(ctx, requestArguments(request), candidates)), nil
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	r.Get("/api/endpoints/{endpointUUID}/tools", s.handleAdvertiseTools)
	r.Route("/api/namespaces/{namespaceUUID}", func(r chi.Router) {
		r.Get("/tool-search-config", s.handleGetSearchConfig)
		r.Put("/tool-search-config", s.handleUpsertSearchConfig)
		r.Post("/tools/defer-loading", s.handleUpdateDeferLoading)
	})

	r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(
		s.mcpServer,
		mcpserver.WithEndpointPath("/mcp"),
	))

	return r
}

// Start serves HTTP until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("server shutdown", "error", err)
		}
	}()

	logger.Infof("Serving MCP endpoint on %s (namespace %s)", srv.Addr, s.cfg.NamespaceUUID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleAdvertiseTools returns the processed advertise list of one endpoint.
func (s *Server) handleAdvertiseTools(w http.ResponseWriter, r *http.Request) {
	endpointUUID := chi.URLParam(r, "endpointUUID")

	ep, err := s.store.FindEndpoint(r.Context(), endpointUUID)
	if err != nil {
		if errors.Is(err, mux.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "endpoint not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	cfg := s.resolver.GetResolvedConfig(r.Context(), ep.NamespaceUUID, ep.UUID)

	pool, err := s.upstream.AvailableTools(r.Context(), ep.NamespaceUUID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	upstreamTools := make([]mux.Tool, 0, len(pool))
	for _, at := range pool {
		upstreamTools = append(upstreamTools, at.Tool)
	}

	advertised := s.advertiser.Apply(r.Context(), upstreamTools, cfg)
	writeJSON(w, http.StatusOK, map[string]any{"tools": advertised})
}

func (s *Server) handleGetSearchConfig(w http.ResponseWriter, r *http.Request) {
	result := s.configAPI.Get(r.Context(), chi.URLParam(r, "namespaceUUID"))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleUpsertSearchConfig(w http.ResponseWriter, r *http.Request) {
	var req configapi.UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	req.NamespaceUUID = chi.URLParam(r, "namespaceUUID")
	req.CallerID = r.Header.Get(callerIDHeader)

	result, err := s.configAPI.Upsert(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handleUpdateDeferLoading(w http.ResponseWriter, r *http.Request) {
	var req configapi.UpdateDeferLoadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	req.NamespaceUUID = chi.URLParam(r, "namespaceUUID")
	req.CallerID = r.Header.Get(callerIDHeader)

	result := s.configAPI.UpdateToolDeferLoading(r.Context(), req)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("failed to encode response", "error", err)
	}
}
