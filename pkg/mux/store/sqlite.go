package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mcpmux/mcpmux/pkg/mux"
)

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies pending
// migrations. An empty path opens a shared in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// Foreign keys enforce the namespace cascade; the pragma applies to
	// every pooled connection.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == "" {
		dsn = "file:mcpmux?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite database: %w", mux.ErrStore, err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", mux.ErrStore, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindNamespace(ctx context.Context, namespaceUUID string) (*mux.Namespace, error) {
	var ns mux.Namespace
	var deferLoading int
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, owner_id, default_defer_loading, default_search_method, default_tool_visibility
		 FROM namespaces WHERE uuid = ?`, namespaceUUID,
	).Scan(&ns.UUID, &ns.Name, &ns.OwnerID, &deferLoading, &ns.DefaultSearchMethod, &ns.DefaultToolVisibility)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying namespace: %w", mux.ErrStore, err)
	}
	ns.DefaultDeferLoading = deferLoading != 0
	return &ns, nil
}

func (s *SQLiteStore) FindEndpoint(ctx context.Context, endpointUUID string) (*mux.Endpoint, error) {
	var ep mux.Endpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, namespace_uuid, override_defer_loading, override_search_method, override_tool_visibility
		 FROM endpoints WHERE uuid = ?`, endpointUUID,
	).Scan(&ep.UUID, &ep.Name, &ep.NamespaceUUID,
		&ep.OverrideDeferLoading, &ep.OverrideSearchMethod, &ep.OverrideToolVisibility)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %s: %w", endpointUUID, mux.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying endpoint: %w", mux.ErrStore, err)
	}
	return &ep, nil
}

func (s *SQLiteStore) FindToolDeferLoadingOverrides(ctx context.Context, namespaceUUID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sanitized_server_name, tool_name, defer_loading
		 FROM tool_mappings
		 WHERE namespace_uuid = ? AND defer_loading IN ('ENABLED', 'DISABLED')`, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying tool overrides: %w", mux.ErrStore, err)
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var sanitized, toolName, behavior string
		if err := rows.Scan(&sanitized, &toolName, &behavior); err != nil {
			return nil, fmt.Errorf("%w: scanning tool override: %w", mux.ErrStore, err)
		}
		overrides[sanitized+mux.ToolNameSeparator+toolName] = behavior == string(mux.DeferLoadingEnabled)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating tool overrides: %w", mux.ErrStore, err)
	}
	return overrides, nil
}

func (s *SQLiteStore) FindToolSearchConfig(ctx context.Context, namespaceUUID string) (*mux.ToolSearchConfig, error) {
	cfg := mux.ToolSearchConfig{NamespaceUUID: namespaceUUID}
	var providerConfig sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max_results, provider_config FROM tool_search_configs WHERE namespace_uuid = ?`,
		namespaceUUID,
	).Scan(&cfg.MaxResults, &providerConfig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool search config for namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying tool search config: %w", mux.ErrStore, err)
	}
	if providerConfig.Valid && providerConfig.String != "" {
		if err := json.Unmarshal([]byte(providerConfig.String), &cfg.ProviderConfig); err != nil {
			return nil, fmt.Errorf("%w: decoding provider config: %w", mux.ErrStore, err)
		}
	}
	return &cfg, nil
}

// toolMappingColumns is the SELECT column list shared by the mapping queries.
const toolMappingColumns = `uuid, namespace_uuid, server_uuid, server_name, tool_uuid, tool_name, status, defer_loading`

func scanToolMapping(row interface{ Scan(...any) error }) (mux.ToolMapping, error) {
	var m mux.ToolMapping
	err := row.Scan(&m.UUID, &m.NamespaceUUID, &m.ServerUUID, &m.ServerName,
		&m.ToolUUID, &m.ToolName, &m.Status, &m.DeferLoading)
	return m, err
}

func (s *SQLiteStore) FindToolMapping(ctx context.Context, namespaceUUID, serverUUID, toolUUID string) (*mux.ToolMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+toolMappingColumns+` FROM tool_mappings
		 WHERE namespace_uuid = ? AND server_uuid = ? AND tool_uuid = ?`,
		namespaceUUID, serverUUID, toolUUID)
	m, err := scanToolMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tool mapping (%s, %s, %s): %w", namespaceUUID, serverUUID, toolUUID, mux.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying tool mapping: %w", mux.ErrStore, err)
	}
	return &m, nil
}

func (s *SQLiteStore) ListToolMappings(ctx context.Context, namespaceUUID string) ([]mux.ToolMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolMappingColumns+` FROM tool_mappings
		 WHERE namespace_uuid = ?
		 ORDER BY sanitized_server_name, tool_name`, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying tool mappings: %w", mux.ErrStore, err)
	}
	defer rows.Close()

	var mappings []mux.ToolMapping
	for rows.Next() {
		m, err := scanToolMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning tool mapping: %w", mux.ErrStore, err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating tool mappings: %w", mux.ErrStore, err)
	}
	return mappings, nil
}

func (s *SQLiteStore) EndpointsByNamespace(ctx context.Context, namespaceUUID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid FROM endpoints WHERE namespace_uuid = ? ORDER BY uuid`, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying endpoints: %w", mux.ErrStore, err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scanning endpoint uuid: %w", mux.ErrStore, err)
		}
		uuids = append(uuids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating endpoints: %w", mux.ErrStore, err)
	}
	return uuids, nil
}

func (s *SQLiteStore) CreateNamespace(ctx context.Context, ns *mux.Namespace) error {
	if ns.UUID == "" {
		ns.UUID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO namespaces (uuid, name, owner_id, default_defer_loading, default_search_method, default_tool_visibility)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ns.UUID, ns.Name, ns.OwnerID, boolToInt(ns.DefaultDeferLoading),
		stringOrDefault(string(ns.DefaultSearchMethod), string(mux.SearchMethodNone)),
		stringOrDefault(string(ns.DefaultToolVisibility), string(mux.VisibilityAll)))
	if err != nil {
		return fmt.Errorf("%w: inserting namespace: %w", mux.ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateNamespace(ctx context.Context, ns *mux.Namespace) ([]string, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE namespaces
		 SET name = ?, owner_id = ?, default_defer_loading = ?, default_search_method = ?, default_tool_visibility = ?
		 WHERE uuid = ?`,
		ns.Name, ns.OwnerID, boolToInt(ns.DefaultDeferLoading),
		string(ns.DefaultSearchMethod), string(ns.DefaultToolVisibility), ns.UUID)
	if err != nil {
		return nil, fmt.Errorf("%w: updating namespace: %w", mux.ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("namespace %s: %w", ns.UUID, mux.ErrNotFound)
	}
	return s.EndpointsByNamespace(ctx, ns.UUID)
}

func (s *SQLiteStore) DeleteNamespace(ctx context.Context, namespaceUUID string) ([]string, error) {
	affected, err := s.EndpointsByNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}

	// Endpoints, mappings, and the search config cascade.
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE uuid = ?`, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: deleting namespace: %w", mux.ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("namespace %s: %w", namespaceUUID, mux.ErrNotFound)
	}
	return affected, nil
}

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, ep *mux.Endpoint) error {
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (uuid, name, namespace_uuid, override_defer_loading, override_search_method, override_tool_visibility)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ep.UUID, ep.Name, ep.NamespaceUUID,
		stringOrDefault(string(ep.OverrideDeferLoading), string(mux.DeferLoadingInherit)),
		stringOrDefault(string(ep.OverrideSearchMethod), string(mux.SearchOverrideInherit)),
		stringOrDefault(string(ep.OverrideToolVisibility), string(mux.VisibilityOverrideInherit)))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("namespace %s: %w", ep.NamespaceUUID, mux.ErrNotFound)
		}
		return fmt.Errorf("%w: inserting endpoint: %w", mux.ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateEndpoint(ctx context.Context, ep *mux.Endpoint) ([]string, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints
		 SET name = ?, override_defer_loading = ?, override_search_method = ?, override_tool_visibility = ?
		 WHERE uuid = ?`,
		ep.Name, string(ep.OverrideDeferLoading), string(ep.OverrideSearchMethod),
		string(ep.OverrideToolVisibility), ep.UUID)
	if err != nil {
		return nil, fmt.Errorf("%w: updating endpoint: %w", mux.ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("endpoint %s: %w", ep.UUID, mux.ErrNotFound)
	}
	return []string{ep.UUID}, nil
}

func (s *SQLiteStore) CreateToolMapping(ctx context.Context, m *mux.ToolMapping) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.DeferLoading == "" {
		m.DeferLoading = mux.DeferLoadingInherit
	}
	if m.Status == "" {
		m.Status = mux.MappingActive
	}
	sanitized := mux.SanitizeServerName(m.ServerName)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", mux.ErrStore, err)
	}
	defer rollback(tx)

	// Distinct servers must not share a sanitized name within one
	// namespace; their tools would collide in the public name space.
	var conflicting string
	err = tx.QueryRowContext(ctx,
		`SELECT server_uuid FROM tool_mappings
		 WHERE namespace_uuid = ? AND sanitized_server_name = ? AND server_uuid != ?
		 LIMIT 1`,
		m.NamespaceUUID, sanitized, m.ServerUUID,
	).Scan(&conflicting)
	switch {
	case err == nil:
		return fmt.Errorf("%w: server name %q sanitizes to %q, already used by server %s in namespace %s",
			mux.ErrInvalidInput, m.ServerName, sanitized, conflicting, m.NamespaceUUID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: checking sanitized server name: %w", mux.ErrStore, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tool_mappings (uuid, namespace_uuid, server_uuid, server_name, sanitized_server_name, tool_uuid, tool_name, status, defer_loading)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UUID, m.NamespaceUUID, m.ServerUUID, m.ServerName, sanitized,
		m.ToolUUID, m.ToolName, string(m.Status), string(m.DeferLoading))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: mapping for (%s, %s) already exists in namespace %s",
				mux.ErrStore, m.ServerUUID, m.ToolUUID, m.NamespaceUUID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("namespace %s: %w", m.NamespaceUUID, mux.ErrNotFound)
		}
		return fmt.Errorf("%w: inserting tool mapping: %w", mux.ErrStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing tool mapping: %w", mux.ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateToolDeferLoading(
	ctx context.Context,
	namespaceUUID, toolUUID, serverUUID string,
	behavior mux.DeferLoadingBehavior,
) ([]string, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_mappings SET defer_loading = ?
		 WHERE namespace_uuid = ? AND tool_uuid = ? AND server_uuid = ?`,
		string(behavior), namespaceUUID, toolUUID, serverUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: updating defer loading: %w", mux.ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("tool mapping (%s, %s, %s): %w", namespaceUUID, serverUUID, toolUUID, mux.ErrNotFound)
	}
	return s.EndpointsByNamespace(ctx, namespaceUUID)
}

func (s *SQLiteStore) UpsertToolSearchConfig(ctx context.Context, cfg *mux.ToolSearchConfig) ([]string, error) {
	var providerConfig any
	if cfg.ProviderConfig != nil {
		raw, err := json.Marshal(cfg.ProviderConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding provider config: %w", mux.ErrInvalidInput, err)
		}
		providerConfig = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_search_configs (namespace_uuid, max_results, provider_config)
		 VALUES (?, ?, ?)
		 ON CONFLICT (namespace_uuid) DO UPDATE SET max_results = excluded.max_results, provider_config = excluded.provider_config`,
		cfg.NamespaceUUID, cfg.MaxResults, providerConfig)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("namespace %s: %w", cfg.NamespaceUUID, mux.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: upserting tool search config: %w", mux.ErrStore, err)
	}
	return s.EndpointsByNamespace(ctx, cfg.NamespaceUUID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// isForeignKeyViolation checks for a SQLite FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
