package mux

import "errors"

// Common domain errors used across mux subpackages.
// These errors should be checked using errors.Is().

var (
	// ErrNotFound indicates a requested namespace, endpoint, server, or tool
	// mapping was not found. Wrapping errors should name what was missing.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller does not own the target.
	ErrUnauthorized = errors.New("access denied")

	// ErrInvalidInput indicates invalid input parameters or configuration.
	// Wrapping errors should specify which parameter is invalid and why.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStore indicates a persistent-store failure (constraint violation,
	// connectivity). Wrapping errors should include the underlying cause.
	ErrStore = errors.New("store error")

	// ErrSearchFailed indicates a search provider failure.
	ErrSearchFailed = errors.New("search failed")

	// ErrDispatchFailed indicates an upstream tool invocation failure.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrUnsupportedMethod indicates a search method with no registered
	// provider factory.
	ErrUnsupportedMethod = errors.New("unsupported search method")
)
