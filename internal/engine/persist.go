package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/schema"
)

// create inserts the allowed fields under the configured container id,
// stamps self-ownership columns when the table supports them, and returns
// the canonical reloaded record.
func (e *Engine) create(ctx context.Context, fields record.Fields) (record.Record, error) {
	allow := e.allowedFields(config.KeyCreate)
	uid, err := e.Store.Insert(ctx, e.Cfg.Table, e.Cfg.Pid, fields, allow)
	if err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	if stamps := e.ownershipStamps(uid, fields); len(stamps) > 0 {
		cols := make([]string, 0, len(stamps))
		for col := range stamps {
			cols = append(cols, col)
		}
		if err := e.Store.Update(ctx, e.Cfg.Table, uid, stamps, cols); err != nil {
			return nil, fmt.Errorf("stamping ownership: %w", err)
		}
	}

	rec, err := e.reload(ctx, uid)
	if err != nil {
		return nil, err
	}
	return e.runPostSave(ctx, rec, nil)
}

// ownershipStamps builds the self-ownership follow-up for a new record: a
// user-table row owns itself, and the group stamp takes the caller's first
// submitted group.
func (e *Engine) ownershipStamps(uid int64, fields record.Fields) record.Fields {
	tbl, ok := e.table()
	if !ok || !tbl.UserTable || !e.Cfg.Permissions.UserOwnSelf {
		return nil
	}
	stamps := record.Fields{}
	if tbl.CruserColumn != "" {
		stamps[tbl.CruserColumn] = uid
	}
	if tbl.CrgroupColumn != "" {
		if groups := strings.Split(fields.Str("usergroup"), ","); len(groups) > 0 && groups[0] != "" {
			stamps[tbl.CrgroupColumn] = record.Intify(groups[0])
		}
	}
	if len(stamps) == 0 {
		return nil
	}
	return stamps
}

// edit updates the allowed fields of an already-authorized record and
// returns the canonical reloaded record.
func (e *Engine) edit(ctx context.Context, orig record.Record, fields record.Fields) (record.Record, error) {
	allow := e.allowedFields(config.KeyEdit)
	if err := e.Store.Update(ctx, e.Cfg.Table, orig.UID(), fields, allow); err != nil {
		return nil, fmt.Errorf("updating record %d: %w", orig.UID(), err)
	}
	rec, err := e.reload(ctx, orig.UID())
	if err != nil {
		return nil, err
	}
	return e.runPostSave(ctx, rec, orig)
}

// deleteRecord removes an already-authorized record. Hard-deleting tables
// get their attached files erased (field cleared, file removed from
// storage) before the row goes. The pre-delete snapshot is returned for
// notification purposes.
func (e *Engine) deleteRecord(ctx context.Context, rec record.Record) (record.Record, error) {
	tbl, _ := e.table()
	if tbl.SoftDeleteColumn == "" {
		if err := e.eraseFiles(ctx, tbl, rec); err != nil {
			return nil, err
		}
	}
	if err := e.Store.Delete(ctx, e.Cfg.Table, rec.UID()); err != nil {
		return nil, fmt.Errorf("deleting record %d: %w", rec.UID(), err)
	}
	if e.Hooks.PostSave != nil {
		e.Hooks.PostSave(ctx, nil, rec)
	}
	return rec, nil
}

// eraseFiles clears every file field of a record and removes the stored
// files, ahead of a hard delete.
func (e *Engine) eraseFiles(ctx context.Context, tbl schema.Table, rec record.Record) error {
	if e.Uploads == nil || len(tbl.Files) == 0 {
		return nil
	}
	cleared := record.Fields{}
	cols := make([]string, 0, len(tbl.Files))
	for field, folder := range tbl.Files {
		value := rec.Str(field)
		if value == "" {
			continue
		}
		e.Uploads.Remove(folder, value)
		cleared[field] = ""
		cols = append(cols, field)
	}
	if len(cols) == 0 {
		return nil
	}
	if err := e.Store.Update(ctx, e.Cfg.Table, rec.UID(), cleared, cols); err != nil {
		return fmt.Errorf("clearing file fields of %d: %w", rec.UID(), err)
	}
	return nil
}

// authorize decides whether the caller may edit/delete the record. A valid
// capability token authorizes on its own; otherwise the caller must be
// logged in and pass the group/self predicate. The returned error view
// distinguishes "not identified at all" from "identified but not allowed".
func (e *Engine) authorize(req *Request, rec record.Record) (string, *DispatchError) {
	if req.AuthCode != "" && e.Tokens != nil && e.Tokens.Verify(rec, req.AuthCode) {
		return "", nil
	}
	if !req.LoggedIn {
		return ViewAuth, &DispatchError{
			Code:    ErrCodePermissionDenied,
			Message: "login or a valid code is required",
			Table:   e.Cfg.Table,
			Cmd:     req.Cmd,
		}
	}
	tbl, _ := e.table()
	if schema.MayEdit(tbl, req.User, rec, e.Cfg.Permissions.AllowedGroups, e.Cfg.Permissions.UserEditSelf) {
		return "", nil
	}
	return ViewNoPermissions, &DispatchError{
		Code:    ErrCodePermissionDenied,
		Message: "no permission to act on this record",
		Table:   e.Cfg.Table,
		Cmd:     req.Cmd,
	}
}

// reload fetches the canonical record after a mutation.
func (e *Engine) reload(ctx context.Context, uid int64) (record.Record, error) {
	rec, err := e.Store.Get(ctx, e.Cfg.Table, uid)
	if err != nil {
		return nil, fmt.Errorf("reloading record %d: %w", uid, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("record %d vanished after mutation", uid)
	}
	return rec, nil
}

// runPostSave invokes the post-save hook and reloads once more so hook
// mutations show up in the returned snapshot.
func (e *Engine) runPostSave(ctx context.Context, rec, orig record.Record) (record.Record, error) {
	if e.Hooks.PostSave == nil {
		return rec, nil
	}
	e.Hooks.PostSave(ctx, rec, orig)
	return e.reload(ctx, rec.UID())
}
