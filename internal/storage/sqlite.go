package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

// SQLiteStore is the hybrid storage backend: a modernc.org/sqlite-backed
// primary table plus a derived facet index, kept consistent within a
// single write transaction per entry (§4.B).
type SQLiteStore struct {
	db *sqlx.DB
	// mu serializes writers; readers proceed through db's own pool.
	mu sync.Mutex
}

// Open opens (and migrates, if cfg asks for it) the SQLite-backed store at
// dsn. dsn is a filesystem path, optionally carrying SQLite pragmas as a
// query string (e.g. "registry.db?_journal=WAL").
func Open(ctx context.Context, dsn string, migrateOnStart bool) (*SQLiteStore, error) {
	if path := strings.SplitN(dsn, "?", 2)[0]; path != ":memory:" {
		if err := ensureDir(path); err != nil {
			return nil, errors.StorageError("mkdir", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError("open", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.StorageError("ping", err)
	}
	if migrateOnStart {
		if err := runMigrations(db); err != nil {
			return nil, errors.StorageError("migrate", err)
		}
	}
	return &SQLiteStore{db: sqlx.NewDb(db, "sqlite")}, nil
}

type entryRow struct {
	ID        string `db:"id"`
	Namespace string `db:"namespace"`
	Name      string `db:"name"`
	Version   string `db:"version"`
	Category  string `db:"category"`
	TenantID  string `db:"tenant_id"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
	DataBlob  []byte `db:"data_blob"`
}

func (s *SQLiteStore) Save(ctx context.Context, entry *registry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(entry)
	if err != nil {
		return errors.StorageError("marshal", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.StorageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var conflictID string
	err = tx.GetContext(ctx, &conflictID,
		`SELECT id FROM entries WHERE namespace=? AND name=? AND version=? AND id<>?`,
		entry.Namespace, entry.Name, entry.Version, entry.ID)
	if err == nil {
		return errors.Conflict(fmt.Sprintf("entry %s/%s@%s already registered as %s", entry.Namespace, entry.Name, entry.Version, conflictID))
	}
	if err != sql.ErrNoRows {
		return errors.StorageError("conflict-check", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (id, namespace, name, version, category, tenant_id, status, created_at, updated_at, data_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace=excluded.namespace, name=excluded.name, version=excluded.version,
			category=excluded.category, tenant_id=excluded.tenant_id, status=excluded.status,
			updated_at=excluded.updated_at, data_blob=excluded.data_blob
	`, entry.ID, entry.Namespace, entry.Name, entry.Version, string(entry.Category), entry.TenantID,
		string(entry.Status), entry.CreatedAt.Format(time.RFC3339Nano), entry.UpdatedAt.Format(time.RFC3339Nano), blob)
	if err != nil {
		return errors.StorageError("upsert", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM facets WHERE entry_id=?`, entry.ID); err != nil {
		return errors.StorageError("clear-facets", err)
	}
	for key, value := range extractFacets(entry) {
		for _, v := range value {
			if _, err := tx.ExecContext(ctx, `INSERT INTO facets (entry_id, key, value) VALUES (?, ?, ?)`, entry.ID, key, v); err != nil {
				return errors.StorageError("insert-facet", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE source_id=?`, entry.ID); err != nil {
		return errors.StorageError("clear-relationships", err)
	}
	for _, rel := range entry.Relationships {
		if _, err := tx.ExecContext(ctx, `INSERT INTO relationships (source_id, target_id, kind) VALUES (?, ?, ?)`, entry.ID, rel.TargetID, rel.Kind); err != nil {
			return errors.StorageError("insert-relationship", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError("commit", err)
	}
	return nil
}

// extractFacets derives facet rows from config.facets and metadata.facets,
// using gjson for cheap opaque-payload traversal (§3 Facet index).
func extractFacets(entry *registry.Entry) map[string][]string {
	out := make(map[string][]string)
	merge := func(m map[string]interface{}) {
		raw, err := json.Marshal(m)
		if err != nil {
			return
		}
		gjson.ParseBytes(raw).Get("facets").ForEach(func(key, val gjson.Result) bool {
			k := key.String()
			if val.IsArray() {
				for _, v := range val.Array() {
					out[k] = append(out[k], v.String())
				}
			} else {
				out[k] = append(out[k], val.String())
			}
			return true
		})
	}
	merge(entry.Config)
	merge(entry.Metadata)
	return out
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*registry.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT id, namespace, name, version, category, tenant_id, status, created_at, updated_at, data_blob FROM entries WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("entry", id)
	}
	if err != nil {
		return nil, errors.StorageError("load", err)
	}
	var entry registry.Entry
	if err := json.Unmarshal(row.DataBlob, &entry); err != nil {
		return nil, errors.StorageError("unmarshal", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) Search(ctx context.Context, filters Filters) ([]*registry.Entry, error) {
	query, args := buildSearchQuery(filters, false)
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.StorageError("search", err)
	}
	out := make([]*registry.Entry, 0, len(rows))
	for _, row := range rows {
		var entry registry.Entry
		if err := json.Unmarshal(row.DataBlob, &entry); err != nil {
			return nil, errors.StorageError("unmarshal", err)
		}
		out = append(out, &entry)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context, filters Filters) (int, error) {
	query, args := buildSearchQuery(filters, true)
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.StorageError("count", err)
	}
	return count, nil
}

func buildSearchQuery(filters Filters, count bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	if count {
		sb.WriteString(`SELECT COUNT(*) FROM entries e WHERE 1=1`)
	} else {
		sb.WriteString(`SELECT e.id, e.namespace, e.name, e.version, e.category, e.tenant_id, e.status, e.created_at, e.updated_at, e.data_blob FROM entries e WHERE 1=1`)
	}

	if filters.Namespace != "" {
		sb.WriteString(" AND e.namespace=?")
		args = append(args, filters.Namespace)
	}
	if filters.Category != "" {
		sb.WriteString(" AND e.category=?")
		args = append(args, string(filters.Category))
	}
	if filters.Status != "" {
		sb.WriteString(" AND e.status=?")
		args = append(args, string(filters.Status))
	}
	if filters.TenantID != "" {
		sb.WriteString(" AND e.tenant_id=?")
		args = append(args, filters.TenantID)
	}

	keys := make([]string, 0, len(filters.Facets))
	for k := range filters.Facets {
		keys = append(keys, k)
	}
	for _, key := range keys {
		values := filters.Facets[key]
		if len(values) == 0 {
			continue
		}
		placeholders := strings.TrimRight(strings.Repeat("?,", len(values)), ",")
		sb.WriteString(fmt.Sprintf(" AND EXISTS (SELECT 1 FROM facets f WHERE f.entry_id=e.id AND f.key=? AND f.value IN (%s))", placeholders))
		args = append(args, key)
		for _, v := range values {
			args = append(args, v)
		}
	}

	if !count {
		sb.WriteString(" ORDER BY e.created_at ASC")
	}

	return sb.String(), args
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id=?`, id)
	if err != nil {
		return errors.StorageError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.StorageError("rows-affected", err)
	}
	if n == 0 {
		return errors.NotFound("entry", id)
	}
	// facets/relationships cascade via ON DELETE CASCADE (FK enforcement is
	// enabled per-connection by modernc.org/sqlite's default pragma).
	return nil
}

type snapshot struct {
	Version   string                     `json:"version"`
	Timestamp string                     `json:"timestamp"`
	Entries   map[string]*registry.Entry `json:"entries"`
}

func (s *SQLiteStore) ExportJSON(ctx context.Context, path string) error {
	entries, err := s.Search(ctx, Filters{})
	if err != nil {
		return err
	}
	snap := snapshot{
		Version:   "1",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Entries:   make(map[string]*registry.Entry, len(entries)),
	}
	for _, e := range entries {
		snap.Entries[e.ID] = e
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.StorageError("marshal-snapshot", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.StorageError("write-snapshot", err)
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0o600)
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.StorageError("rename-snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensureDir creates the parent directory for path if missing.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
