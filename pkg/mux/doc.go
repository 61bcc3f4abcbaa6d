// Package mux contains the core domain types for the mcpmux tool-discovery
// subsystem: namespaces, endpoints, tool mappings, search configuration, and
// the resolved per-endpoint view the request path consumes.
//
// Subpackages implement the moving parts:
//   - search: pluggable ranked retrieval over aggregated tool pools
//   - builtin: the search_tools and execute_tool virtual tools
//   - resolver: configuration resolution and caching
//   - middleware: the list-tools rewrite pipeline
//   - store: the persistence contract and its implementations
//   - configapi: the tool-search configuration CRUD surface
package mux
