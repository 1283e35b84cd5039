// Package schema is the table-metadata registry the engine consults instead
// of a global schema state: per table, the externally editable field list,
// file-field upload folders, the soft-delete column, ownership columns and
// whether the table holds user records.
package schema

import (
	"github.com/roach88/fegate/internal/record"
)

// Table describes one editable record table.
type Table struct {
	// Name is the table name.
	Name string

	// FieldList is the global allowlist of externally editable fields.
	// Commands further restrict it; a field absent here is never written.
	FieldList []string

	// SoftDeleteColumn, when set, marks rows deleted instead of removing
	// them. Empty means hard delete (and file cleanup on delete).
	SoftDeleteColumn string

	// Files maps file fields to their upload folder.
	Files map[string]string

	// CruserColumn and CrgroupColumn are the creator/owner stamp columns
	// for self-ownership and the edit permission predicate.
	CruserColumn  string
	CrgroupColumn string

	// UserTable marks the table whose rows are user records (self-edit,
	// recipient lookup).
	UserTable bool
}

// UploadFolder returns the upload folder for a file field, "" for non-file
// fields.
func (t Table) UploadFolder(field string) string {
	return t.Files[field]
}

// Registry resolves table names to their metadata.
type Registry struct {
	tables map[string]Table
}

// NewRegistry builds a registry from table descriptions.
func NewRegistry(tables ...Table) *Registry {
	m := make(map[string]Table, len(tables))
	for _, t := range tables {
		m[t.Name] = t
	}
	return &Registry{tables: m}
}

// Lookup returns a table's metadata.
func (r *Registry) Lookup(name string) (Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// FieldList returns a table's global editable field list (nil for unknown
// tables, which the config validation turns into a configuration error).
func (r *Registry) FieldList(name string) []string {
	return r.tables[name].FieldList
}

// Names returns the registered table names, unordered.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tables))
	for name := range r.tables {
		out = append(out, name)
	}
	return out
}

// UserTable returns the registered user table, if any.
func (r *Registry) UserTable() (Table, bool) {
	for _, t := range r.tables {
		if t.UserTable {
			return t, true
		}
	}
	return Table{}, false
}

// MayEdit is the group/self permission predicate for a stored record.
// A logged-in user may edit a record when any of these hold:
//   - editSelf is set, the table is the user table and the record is the
//     user's own row
//   - the table stamps a creator column and it matches the user's id
//   - the table stamps a group column whose value is among the user's
//     groups, additionally restricted to allowedGroups when that list is
//     non-empty
//
// An anonymous user (nil record) never passes; capability tokens are
// checked elsewhere.
func MayEdit(tbl Table, user record.Record, rec record.Record, allowedGroups []int64, editSelf bool) bool {
	if user == nil || rec == nil {
		return false
	}
	if editSelf && tbl.UserTable && rec.UID() == user.UID() {
		return true
	}
	if tbl.CruserColumn != "" && record.Intify(rec[tbl.CruserColumn]) == user.UID() && user.UID() != 0 {
		return true
	}
	if tbl.CrgroupColumn != "" {
		group := record.Intify(rec[tbl.CrgroupColumn])
		if group != 0 && inGroups(group, UserGroups(user)) {
			if len(allowedGroups) == 0 || inGroups(group, allowedGroups) {
				return true
			}
		}
	}
	return false
}

// UserGroups parses the comma-separated "usergroup" column of a user
// record.
func UserGroups(user record.Record) []int64 {
	raw := user.Str("usergroup")
	if raw == "" {
		return nil
	}
	var out []int64
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if g := record.Intify(raw[start:i]); g != 0 {
				out = append(out, g)
			}
			start = i + 1
		}
	}
	return out
}

func inGroups(g int64, groups []int64) bool {
	for _, cand := range groups {
		if cand == g {
			return true
		}
	}
	return false
}
