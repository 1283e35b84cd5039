package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/schema"
)

// Get returns the record with the given uid, nil when no such row exists.
// Soft-deleted rows are returned too: permission checks and delete flows
// need the raw row.
func (s *Store) Get(ctx context.Context, table string, uid int64) (record.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE uid = ?", table), uid)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return record.Record(recs[0]), nil
}

// FindByField returns up to limit live records whose field equals value,
// optionally restricted to the given container ids. Soft-deleted rows are
// excluded. Used by the uniqueness validators and the infomail lookup.
func (s *Store) FindByField(ctx context.Context, table, field, value string, pids []int64, limit int) ([]record.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, fmt.Errorf("find by field: %w", err)
	}
	if err := checkIdent(field); err != nil {
		return nil, fmt.Errorf("find by field: %w", err)
	}

	var b strings.Builder
	args := []any{value}
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s = ?", table, field)
	if len(pids) > 0 {
		b.WriteString(" AND pid IN (")
		for i, pid := range pids {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, pid)
		}
		b.WriteString(")")
	}
	b.WriteString(s.deleteClause(table))
	b.WriteString(" ORDER BY uid ASC")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find by field: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("find by field: %w", err)
	}
	out := make([]record.Record, len(recs))
	for i, r := range recs {
		out[i] = record.Record(r)
	}
	return out, nil
}

// Insert creates a row under the given container id from the allowed subset
// of the submitted fields, in allowlist order. Fields not present in the
// submission are not written; column defaults apply. Returns the new uid.
func (s *Store) Insert(ctx context.Context, table string, pid int64, fields record.Fields, allow []string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}

	cols := []string{"pid"}
	args := []any{pid}
	for _, f := range allow {
		if !fields.Has(f) {
			continue
		}
		if err := checkIdent(f); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		cols = append(cols, f)
		args = append(args, dbValue(fields[f]))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders),
		args...)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	uid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return uid, nil
}

// Update writes the allowed subset of the submitted fields onto the row, in
// allowlist order, as one atomic statement. A submission with no allowed
// fields is a no-op.
func (s *Store) Update(ctx context.Context, table string, uid int64, fields record.Fields, allow []string) error {
	if err := checkIdent(table); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	var sets []string
	var args []any
	for _, f := range allow {
		if !fields.Has(f) {
			continue
		}
		if err := checkIdent(f); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		sets = append(sets, f+" = ?")
		args = append(args, dbValue(fields[f]))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, uid)

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE uid = ?", table, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// Delete removes a row. Tables with a soft-delete column get the flag set;
// everything else is deleted for real. File cleanup for hard deletes is the
// orchestrator's job and happens before this call.
func (s *Store) Delete(ctx context.Context, table string, uid int64) error {
	if err := checkIdent(table); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	tbl, ok := s.schema.Lookup(table)
	if ok && tbl.SoftDeleteColumn != "" {
		if err := checkIdent(tbl.SoftDeleteColumn); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET %s = 1 WHERE uid = ?", table, tbl.SoftDeleteColumn), uid)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE uid = ?", table), uid)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// TreeList expands the container subtree rooted at root, breadth-first,
// down to maxDepth levels below it. The root itself is always included.
func (s *Store) TreeList(ctx context.Context, root int64, maxDepth int) ([]int64, error) {
	if err := checkIdent(s.ContainerTable); err != nil {
		return nil, fmt.Errorf("tree list: %w", err)
	}

	result := []int64{root}
	seen := map[int64]bool{root: true}
	frontier := []int64{root}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, pid := range frontier {
			rows, err := s.db.QueryContext(ctx,
				fmt.Sprintf("SELECT uid FROM %s WHERE pid = ? ORDER BY uid ASC", s.ContainerTable), pid)
			if err != nil {
				return nil, fmt.Errorf("tree list: %w", err)
			}
			for rows.Next() {
				var uid int64
				if err := rows.Scan(&uid); err != nil {
					rows.Close()
					return nil, fmt.Errorf("tree list: %w", err)
				}
				if !seen[uid] {
					seen[uid] = true
					result = append(result, uid)
					next = append(next, uid)
				}
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, fmt.Errorf("tree list: %w", err)
			}
			rows.Close()
		}
		frontier = next
	}
	return result, nil
}

// LookupUser returns the user record with the given uid from the registered
// user table, nil when there is no user table or no such user.
func (s *Store) LookupUser(ctx context.Context, uid int64) (record.Record, error) {
	users, ok := s.schema.UserTable()
	if !ok {
		return nil, nil
	}
	return s.Get(ctx, users.Name, uid)
}

// ListEditable returns the live records of a table the given user may edit,
// for the edit-menu display. lockPid > 0 restricts to one container.
func (s *Store) ListEditable(ctx context.Context, table string, user record.Record, allowedGroups []int64, editSelf bool, lockPid int64) ([]record.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, fmt.Errorf("list editable: %w", err)
	}
	tbl, _ := s.schema.Lookup(table)

	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE 1 = 1", table)
	if lockPid > 0 {
		b.WriteString(" AND pid = ?")
		args = append(args, lockPid)
	}
	b.WriteString(s.deleteClause(table))
	b.WriteString(" ORDER BY uid ASC")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list editable: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list editable: %w", err)
	}

	var out []record.Record
	for _, r := range recs {
		rec := record.Record(r)
		if schema.MayEdit(tbl, user, rec, allowedGroups, editSelf) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// dbValue flattens a field value into something the sql driver accepts.
// Composites that survived the pipeline (lists, checkbox maps) have no
// column representation and collapse to their string form.
func dbValue(v any) any {
	switch v.(type) {
	case nil, string, int64, int, bool, float64, []byte:
		return v
	default:
		return record.Stringify(v)
	}
}
