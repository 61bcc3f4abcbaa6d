package mux

// This file contains shared domain types used across the mux subpackages.

// SearchMethod identifies the retrieval strategy used by search_tools.
type SearchMethod string

const (
	// SearchMethodNone disables ranked retrieval. The search service returns
	// the available tools with a neutral score.
	SearchMethodNone SearchMethod = "NONE"

	// SearchMethodRegex matches tools by pattern or literal substring.
	SearchMethodRegex SearchMethod = "REGEX"

	// SearchMethodBM25 ranks tools with BM25 over tokenized name/description.
	SearchMethodBM25 SearchMethod = "BM25"

	// SearchMethodEmbeddings is reserved for semantic search. The provider
	// registry reports it as unsupported until an implementation lands.
	SearchMethodEmbeddings SearchMethod = "EMBEDDINGS"
)

// Valid reports whether m is one of the known search methods.
func (m SearchMethod) Valid() bool {
	switch m {
	case SearchMethodNone, SearchMethodRegex, SearchMethodBM25, SearchMethodEmbeddings:
		return true
	default:
		return false
	}
}

// DeferLoadingBehavior is the tri-state defer-loading override carried by
// endpoints and tool mappings. The inherit sentinel is deliberately distinct
// from a nullable boolean: "unset" and "deliberately disabled" mean
// different things during resolution.
type DeferLoadingBehavior string

const (
	// DeferLoadingInherit defers the decision to the next layer up.
	DeferLoadingInherit DeferLoadingBehavior = "INHERIT"

	// DeferLoadingEnabled forces the defer_loading flag on.
	DeferLoadingEnabled DeferLoadingBehavior = "ENABLED"

	// DeferLoadingDisabled forces the defer_loading flag off.
	DeferLoadingDisabled DeferLoadingBehavior = "DISABLED"
)

// Valid reports whether b is a known defer-loading behavior.
func (b DeferLoadingBehavior) Valid() bool {
	switch b {
	case DeferLoadingInherit, DeferLoadingEnabled, DeferLoadingDisabled:
		return true
	default:
		return false
	}
}

// ToolVisibility controls which tools an endpoint advertises.
type ToolVisibility string

const (
	// VisibilityAll advertises every active upstream tool.
	VisibilityAll ToolVisibility = "ALL"

	// VisibilitySearchOnly advertises only the enabled built-in tools;
	// upstream tools stay reachable through search_tools / execute_tool.
	VisibilitySearchOnly ToolVisibility = "SEARCH_ONLY"
)

// SearchMethodOverride is the endpoint-level search method override.
// The empty string and SearchOverrideInherit both mean "inherit".
type SearchMethodOverride string

const (
	// SearchOverrideInherit defers to the namespace default.
	SearchOverrideInherit SearchMethodOverride = "INHERIT"
)

// Method converts a non-inherit override into the effective search method.
func (o SearchMethodOverride) Method() SearchMethod {
	return SearchMethod(o)
}

// IsInherit reports whether the override defers to the namespace default.
func (o SearchMethodOverride) IsInherit() bool {
	return o == "" || o == SearchOverrideInherit
}

// ToolVisibilityOverride is the endpoint-level visibility override.
// The empty string and VisibilityOverrideInherit both mean "inherit".
type ToolVisibilityOverride string

const (
	// VisibilityOverrideInherit defers to the namespace default.
	VisibilityOverrideInherit ToolVisibilityOverride = "INHERIT"
)

// Visibility converts a non-inherit override into the effective visibility.
func (o ToolVisibilityOverride) Visibility() ToolVisibility {
	return ToolVisibility(o)
}

// IsInherit reports whether the override defers to the namespace default.
func (o ToolVisibilityOverride) IsInherit() bool {
	return o == "" || o == VisibilityOverrideInherit
}

// MappingStatus marks a tool mapping as active or inactive within its
// namespace. Inactive mappings are excluded from aggregation.
type MappingStatus string

const (
	// MappingActive includes the tool in the namespace's pool.
	MappingActive MappingStatus = "ACTIVE"

	// MappingInactive excludes the tool from the namespace's pool.
	MappingInactive MappingStatus = "INACTIVE"
)

// Namespace is a logical grouping of upstream MCP servers. It carries the
// defaults every endpoint bound to it inherits.
type Namespace struct {
	// UUID is the unique identifier for this namespace.
	UUID string

	// Name is the human-readable name.
	Name string

	// OwnerID identifies the owning principal. Empty means the namespace is
	// public: any caller may update its tool configuration.
	OwnerID string

	// DefaultDeferLoading enables the defer_loading flag for tools that do
	// not override it.
	DefaultDeferLoading bool

	// DefaultSearchMethod is the retrieval strategy used unless an endpoint
	// overrides it.
	DefaultSearchMethod SearchMethod

	// DefaultToolVisibility is the advertised-list mode used unless an
	// endpoint overrides it.
	DefaultToolVisibility ToolVisibility
}

// Endpoint is a client-visible projection of a namespace. Its overrides are
// tri-state: inherit, or an explicit value.
type Endpoint struct {
	// UUID is the unique identifier for this endpoint.
	UUID string

	// Name is the human-readable name.
	Name string

	// NamespaceUUID binds the endpoint to exactly one namespace.
	NamespaceUUID string

	// OverrideDeferLoading overrides the namespace's defer-loading default.
	OverrideDeferLoading DeferLoadingBehavior

	// OverrideSearchMethod overrides the namespace's search method.
	OverrideSearchMethod SearchMethodOverride

	// OverrideToolVisibility overrides the namespace's visibility mode.
	OverrideToolVisibility ToolVisibilityOverride
}

// ToolMapping records one (namespace, server, tool) association together
// with its per-tool configuration. Uniqueness is (namespace, tool, server).
type ToolMapping struct {
	// UUID is the unique identifier for this mapping.
	UUID string

	// NamespaceUUID is the owning namespace.
	NamespaceUUID string

	// ServerUUID identifies the upstream MCP server.
	ServerUUID string

	// ServerName is the upstream server's configured name. Its sanitized
	// form prefixes the public tool name.
	ServerName string

	// ToolUUID identifies the tool record.
	ToolUUID string

	// ToolName is the tool's name as reported by the upstream server.
	ToolName string

	// Status marks the mapping active or inactive.
	Status MappingStatus

	// DeferLoading is the per-tool defer-loading override.
	DeferLoading DeferLoadingBehavior
}

// PublicName returns the mapping's public tool name.
func (m *ToolMapping) PublicName() string {
	return PublicToolName(m.ServerName, m.ToolName)
}

// DefaultMaxResults is the search result cap used when a namespace has no
// stored ToolSearchConfig.
const DefaultMaxResults = 5

// MaxResults bounds for ToolSearchConfig validation.
const (
	MinConfiguredResults = 1
	MaxConfiguredResults = 20
)

// ToolSearchConfig is the per-namespace search tuning record.
type ToolSearchConfig struct {
	// NamespaceUUID is the owning namespace; one config per namespace.
	NamespaceUUID string

	// MaxResults caps search results. Must be within [1, 20].
	MaxResults int

	// ProviderConfig is the method-specific tuning object. May be nil.
	// For BM25: {k1?: number in [0,3], b?: number in [0,1], fields?: []string}.
	// For EMBEDDINGS (reserved): {model?: string, similarity_threshold?: number in [0,1]}.
	ProviderConfig map[string]any
}

// Tool is an upstream-supplied tool in its advertised form. Instances
// received from upstream are never mutated; the middleware clones before
// setting DeferLoading.
type Tool struct {
	// Name is the public tool name (sanitized server prefix + "__" + tool).
	Name string `json:"name"`

	// Description describes what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]any `json:"inputSchema,omitempty"`

	// DeferLoading hints that the client may omit the full definition from
	// its context until needed. Serialized only when true.
	DeferLoading bool `json:"defer_loading,omitempty"`
}

// Clone returns a shallow copy of the tool. The input schema map is shared:
// schemas are treated as immutable throughout the request path.
func (t Tool) Clone() Tool {
	return t
}

// ResolvedConfig is the fully inherited, inherit-free view of
// namespace x endpoint x per-tool configuration used by a single request.
// It is a value type: cached copies are never mutated in place.
type ResolvedConfig struct {
	// DeferLoadingEnabled is the effective defer-loading default.
	DeferLoadingEnabled bool

	// SearchMethod is the effective retrieval strategy.
	SearchMethod SearchMethod

	// ToolVisibility is the effective advertised-list mode.
	ToolVisibility ToolVisibility

	// ToolOverrides maps public tool names to explicit defer-loading
	// decisions. Inherit entries never appear here.
	ToolOverrides map[string]bool

	// MaxResults is the effective search result cap.
	MaxResults int

	// ProviderConfig is the effective provider tuning object. May be nil.
	ProviderConfig map[string]any
}

// FailsafeResolvedConfig is returned when resolution cannot reach the store
// or the namespace is gone: defer-loading off, search off, everything
// visible. It is never cached, so a later retry can observe recovery.
func FailsafeResolvedConfig() ResolvedConfig {
	return ResolvedConfig{
		DeferLoadingEnabled: false,
		SearchMethod:        SearchMethodNone,
		ToolVisibility:      VisibilityAll,
		ToolOverrides:       map[string]bool{},
		MaxResults:          DefaultMaxResults,
		ProviderConfig:      nil,
	}
}

// ContentBlock is one element of a tool call result. Type is "text" for
// plain results and "tool_reference" for search_tools discovery results.
type ContentBlock struct {
	// Type is the content discriminator: "text" or "tool_reference".
	Type string `json:"type"`

	// Text is the content body for text blocks.
	Text string `json:"text,omitempty"`

	// Name is the referenced tool's public name for tool_reference blocks.
	Name string `json:"name,omitempty"`

	// Description is the referenced tool's annotated description for
	// tool_reference blocks.
	Description string `json:"description,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolReferenceBlock builds a tool_reference content block.
func ToolReferenceBlock(name, description string) ContentBlock {
	return ContentBlock{Type: "tool_reference", Name: name, Description: description}
}

// ToolCallResult is the domain-level result of a builtin tool invocation.
// The transport adapter converts it to the SDK's wire representation.
type ToolCallResult struct {
	// Content is the ordered list of result blocks.
	Content []ContentBlock `json:"content"`

	// IsError marks the result as a tool-level failure.
	IsError bool `json:"isError,omitempty"`
}

// ErrorResult builds a ToolCallResult carrying a single text block and the
// error flag.
func ErrorResult(text string) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentBlock{TextBlock(text)},
		IsError: true,
	}
}
