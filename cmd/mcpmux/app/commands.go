// Package app provides the entry point for the mcpmux command-line
// application.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpmux/mcpmux/pkg/logger"
	"github.com/mcpmux/mcpmux/pkg/mux"
	"github.com/mcpmux/mcpmux/pkg/mux/server"
	"github.com/mcpmux/mcpmux/pkg/mux/store"
)

var rootCmd = &cobra.Command{
	Use:               "mcpmux",
	DisableAutoGenTag: true,
	Short:             "MCP multiplexing proxy with tool discovery",
	Long: `mcpmux aggregates the tools of multiple MCP (Model Context Protocol)
servers behind a single endpoint. Instead of advertising every upstream tool
definition up front, it can defer tool loading and expose built-in search_tools
and execute_tool entry points, so clients discover and invoke tools on demand.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the mcpmux CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mcpmux server",
		Long: `Start the mcpmux server for one endpoint.

Upstream MCP servers are registered with repeated --upstream name=url flags.
Their tools are synced into the namespace at startup. Without --namespace a
fresh namespace and endpoint are created and their UUIDs logged.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String("host", "127.0.0.1", "Address to listen on")
	flags.Int("port", 4483, "Port to listen on")
	flags.String("db-path", "", "SQLite database path (empty for in-memory)")
	flags.String("namespace", "", "Namespace UUID to serve (created when empty)")
	flags.String("endpoint", "", "Endpoint UUID to serve (created when empty)")
	flags.StringSlice("upstream", nil, "Upstream MCP server as name=url (repeatable)")
	flags.String("search-method", string(mux.SearchMethodBM25),
		"Default search method for a created namespace (REGEX, BM25, NONE)")
	flags.Bool("advertise-execute-tool", false,
		"Advertise execute_tool next to search_tools")

	for _, name := range []string{
		"host", "port", "db-path", "namespace", "endpoint",
		"upstream", "search-method", "advertise-execute-tool",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			logger.Errorf("Error binding %s flag: %v", name, err)
		}
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("mcpmux version: %s", getVersion())
		},
	}
}

// getVersion returns the version string (will be set at build time)
func getVersion() string {
	return "dev"
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := store.NewSQLiteStore(ctx, viper.GetString("db-path"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warnf("Failed to close store: %v", err)
		}
	}()

	ns, ep, err := ensureServingTarget(ctx, st)
	if err != nil {
		return err
	}

	upstream := server.NewHTTPUpstream()
	if err := syncUpstreams(ctx, st, upstream, ns, viper.GetStringSlice("upstream")); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Name:                 "mcpmux",
		Version:              getVersion(),
		Host:                 viper.GetString("host"),
		Port:                 viper.GetInt("port"),
		NamespaceUUID:        ns.UUID,
		EndpointUUID:         ep.UUID,
		AdvertiseExecuteTool: viper.GetBool("advertise-execute-tool"),
	}, st, server.NewAggregator(st, upstream, upstream))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}

// ensureServingTarget loads the configured namespace and endpoint, creating
// both when no namespace UUID is configured.
func ensureServingTarget(ctx context.Context, st store.Store) (*mux.Namespace, *mux.Endpoint, error) {
	namespaceUUID := viper.GetString("namespace")
	if namespaceUUID == "" {
		method := mux.SearchMethod(strings.ToUpper(viper.GetString("search-method")))
		if !method.Valid() {
			return nil, nil, fmt.Errorf("invalid search method %q", viper.GetString("search-method"))
		}
		ns := &mux.Namespace{
			Name:                  "default",
			DefaultDeferLoading:   true,
			DefaultSearchMethod:   method,
			DefaultToolVisibility: mux.VisibilityAll,
		}
		if err := st.CreateNamespace(ctx, ns); err != nil {
			return nil, nil, fmt.Errorf("failed to create namespace: %w", err)
		}
		ep := &mux.Endpoint{Name: "primary", NamespaceUUID: ns.UUID}
		if err := st.CreateEndpoint(ctx, ep); err != nil {
			return nil, nil, fmt.Errorf("failed to create endpoint: %w", err)
		}
		logger.Infof("Created namespace %s with endpoint %s", ns.UUID, ep.UUID)
		return ns, ep, nil
	}

	ns, err := st.FindNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, nil, fmt.Errorf("namespace %s: %w", namespaceUUID, err)
	}

	endpointUUID := viper.GetString("endpoint")
	if endpointUUID == "" {
		endpointUUIDs, err := st.EndpointsByNamespace(ctx, ns.UUID)
		if err != nil {
			return nil, nil, err
		}
		if len(endpointUUIDs) == 0 {
			return nil, nil, fmt.Errorf("namespace %s has no endpoints, pass --endpoint", ns.UUID)
		}
		endpointUUID = endpointUUIDs[0]
	}

	ep, err := st.FindEndpoint(ctx, endpointUUID)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint %s: %w", endpointUUID, err)
	}
	if ep.NamespaceUUID != ns.UUID {
		return nil, nil, fmt.Errorf("endpoint %s does not belong to namespace %s", ep.UUID, ns.UUID)
	}
	return ns, ep, nil
}

// syncUpstreams registers each configured upstream server and maps its tools
// into the namespace. Mappings that already exist are left untouched.
func syncUpstreams(ctx context.Context, st store.Store, upstream *server.HTTPUpstream, ns *mux.Namespace, specs []string) error {
	for _, spec := range specs {
		name, url, ok := strings.Cut(spec, "=")
		if !ok || name == "" || url == "" {
			return fmt.Errorf("invalid --upstream value %q, expected name=url", spec)
		}

		serverUUID := "srv-" + mux.SanitizeServerName(name)
		upstream.RegisterServer(serverUUID, url)

		defs, err := upstream.Definitions(ctx, serverUUID)
		if err != nil {
			return fmt.Errorf("failed to list tools of upstream %s: %w", name, err)
		}

		synced := 0
		for toolName := range defs {
			toolUUID := serverUUID + "/" + toolName
			if _, err := st.FindToolMapping(ctx, ns.UUID, serverUUID, toolUUID); err == nil {
				// Known mapping from a previous run.
				continue
			} else if !errors.Is(err, mux.ErrNotFound) {
				return fmt.Errorf("failed to look up mapping for tool %s: %w", toolName, err)
			}

			err := st.CreateToolMapping(ctx, &mux.ToolMapping{
				NamespaceUUID: ns.UUID,
				ServerUUID:    serverUUID,
				ServerName:    name,
				ToolUUID:      toolUUID,
				ToolName:      toolName,
			})
			if err != nil {
				return fmt.Errorf("failed to map tool %s of upstream %s: %w", toolName, name, err)
			}
			synced++
		}
		logger.Infof("Synced %d tools from upstream %s (%d advertised)", synced, name, len(defs))
	}
	return nil
}
