package store

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fegate/internal/schema"
)

// DefaultContainerTable is the table the container tree is expanded from.
const DefaultContainerTable = "pages"

// identPattern is the only shape of table/column identifier the store will
// interpolate into SQL. Everything else travels as a bind parameter.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store provides flat-record access over SQLite.
type Store struct {
	db     *sql.DB
	schema *schema.Registry

	// ContainerTable is the table holding the container/location tree.
	ContainerTable string
}

// Open creates or opens a SQLite database at the given path and applies the
// required pragmas. Record tables themselves are owned by the caller.
func Open(path string, reg *schema.Registry) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent invocations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return New(db, reg), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, reg *schema.Registry) *Store {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	return &Store{db: db, schema: reg, ContainerTable: DefaultContainerTable}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle for direct queries (tests, schema
// setup). Prefer the Store methods otherwise.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the registry the store was built with.
func (s *Store) Schema() *schema.Registry {
	return s.schema
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// checkIdent rejects identifiers that cannot be safely interpolated.
func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// deleteClause returns the soft-delete filter for a table ("" when the
// table hard-deletes).
func (s *Store) deleteClause(table string) string {
	tbl, ok := s.schema.Lookup(table)
	if !ok || tbl.SoftDeleteColumn == "" {
		return ""
	}
	return fmt.Sprintf(" AND %s = 0", tbl.SoftDeleteColumn)
}

// scanRecords reads all rows into flat records, converting byte slices to
// strings so values compare naturally.
func scanRecords(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = vals[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
