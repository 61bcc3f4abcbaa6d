package mux

import (
	"regexp"
	"strings"
)

// ToolNameSeparator joins the sanitized server prefix and the tool name to
// form a public tool name.
const ToolNameSeparator = "__"

// nonWordChars matches runs of characters that are not allowed in a
// sanitized server name.
var nonWordChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// SanitizeServerName makes an upstream server name safe for use as a public
// tool name prefix: surrounding whitespace is trimmed and every run of
// non-word characters collapses to a single underscore.
//
// The mapping must stay stable across every component that builds or parses
// public names; overrides, search results, and dispatch all key on it.
func SanitizeServerName(name string) string {
	return nonWordChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// PublicToolName returns the canonical public name for a tool exposed
// through an aggregated namespace: sanitize(serverName) + "__" + toolName.
func PublicToolName(serverName, toolName string) string {
	return SanitizeServerName(serverName) + ToolNameSeparator + toolName
}

// SplitPublicToolName splits a public name into its sanitized server prefix
// and the original tool name. The second return is false when the name does
// not carry a separator.
func SplitPublicToolName(publicName string) (serverPrefix, toolName string, ok bool) {
	idx := strings.Index(publicName, ToolNameSeparator)
	if idx < 0 {
		return "", publicName, false
	}
	return publicName[:idx], publicName[idx+len(ToolNameSeparator):], true
}
