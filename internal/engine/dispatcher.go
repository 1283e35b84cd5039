package engine

import (
	"context"
	"fmt"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/pipeline"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/upload"
	"github.com/roach88/fegate/internal/validate"
)

// Dispatch runs one command end to end and returns the terminal outcome.
// Named failures (configuration, permission, token) come back inside the
// Outcome; the error return is reserved for infrastructure faults (store
// I/O), after which no view is meaningful.
func (e *Engine) Dispatch(ctx context.Context, req *Request) (*Outcome, error) {
	if err := e.Cfg.Validate(e.Reg.FieldList(e.Cfg.Table)); err != nil {
		return &Outcome{
			View: ViewError,
			Err: &DispatchError{
				Code:    ErrCodeNotConfigured,
				Message: err.Error(),
				Table:   e.Cfg.Table,
			},
		}, nil
	}

	cmd := req.Cmd
	if cmd == "" {
		cmd = e.Cfg.DefaultCmd
	}
	out := &Outcome{Cmd: cmd, BackURL: ScrubBackURL(req.BackURL)}

	switch cmd {
	case CmdCreate, CmdEdit:
		return e.dispatchSave(ctx, req, out)
	case CmdDelete:
		return e.dispatchDelete(ctx, req, out)
	case CmdSetFixed:
		return e.dispatchSetFixed(ctx, req, out)
	case CmdInfoMail:
		return e.dispatchInfoMail(ctx, req, out)
	default:
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeCommandDisabled,
			Message: fmt.Sprintf("unknown command %q", cmd),
			Table:   e.Cfg.Table,
			Cmd:     cmd,
		}
		return out, nil
	}
}

// dispatchSave is the create/edit path: transform, validate, hook, persist
// or redisplay.
func (e *Engine) dispatchSave(ctx context.Context, req *Request, out *Outcome) (*Outcome, error) {
	key := config.CmdKey(out.Cmd)
	cmdCfg := e.Cfg.Command(key)
	if !cmdCfg.Enabled {
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeCommandDisabled,
			Message: fmt.Sprintf("command %q is not enabled", out.Cmd),
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}

	var stored record.Record
	if out.Cmd == CmdEdit {
		if req.RecUID == 0 {
			return e.editMenu(ctx, req, out)
		}
		var err error
		stored, err = e.Store.Get(ctx, e.Cfg.Table, req.RecUID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			out.View = ViewError
			out.Err = &DispatchError{
				Code:    ErrCodeRecordNotFound,
				Message: fmt.Sprintf("record %d not found", req.RecUID),
				Table:   e.Cfg.Table,
				Cmd:     out.Cmd,
			}
			return out, nil
		}
		if view, derr := e.authorize(req, stored); derr != nil {
			out.View = view
			out.Err = derr
			return out, nil
		}
	}

	// No submission: populate defaults and show the form, preview off.
	if !req.HasSubmission() {
		out.Fields = e.defaultFields(key, stored)
		out.Record = stored
		out.View = formView(out.Cmd, false)
		return out, nil
	}

	fields := req.Fields.Clone()
	temp := pipeline.Apply(fields, e.Cfg.ParseValues, pipeline.Options{
		CommandKey:   key,
		DoNotSave:    req.DoNotSave,
		Preview:      req.Preview,
		Table:        e.Cfg.Table,
		Uploads:      e.Uploads,
		UploadFolder: e.uploadFolder,
	})
	// Unlink the staging files this pass consumed on every exit path.
	// Copies staged for a preview are not among them; the follow-up real
	// save needs them.
	defer upload.CleanupTemp(temp)

	for field, value := range cmdCfg.OverrideValues {
		fields[field] = value
	}

	res, err := e.validator().Apply(ctx, fields, cmdCfg.EvalValues,
		e.Cfg.RequiredFields(key), validate.Context{
			Table:  e.Cfg.Table,
			UID:    req.RecUID,
			Stored: stored,
		})
	if err != nil {
		return nil, err
	}

	if e.Hooks.PostProcess != nil {
		e.Hooks.PostProcess(ctx, key, fields, res)
	}

	out.Validation = res
	out.Fields = fields

	switch {
	case !res.OK():
		// Failures force preview off; redisplay with everything visible.
		out.Record = record.Merge(fields, stored)
		out.View = formView(out.Cmd, false)

	case req.DoNotSave:
		out.Record = record.Merge(fields, stored)
		out.View = formView(out.Cmd, false)

	case req.Preview:
		out.Record = record.Merge(fields, stored)
		out.View = formView(out.Cmd, true)

	case out.Cmd == CmdEdit:
		rec, err := e.edit(ctx, stored, fields)
		if err != nil {
			return nil, err
		}
		out.Record = rec
		out.View = ViewEditSaved
		e.afterMutation(ctx, out)
		e.notifySaved(ctx, ViewEditSaved, rec)

	default:
		rec, err := e.create(ctx, fields)
		if err != nil {
			return nil, err
		}
		out.Record = rec
		out.View = ViewCreateSaved
		e.afterMutation(ctx, out)
		e.notifySaved(ctx, ViewCreateSaved, rec)
	}
	return out, nil
}

// dispatchDelete authorizes and either confirms (preview) or deletes.
func (e *Engine) dispatchDelete(ctx context.Context, req *Request, out *Outcome) (*Outcome, error) {
	if !e.Cfg.Delete.Enabled {
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeCommandDisabled,
			Message: "command \"delete\" is not enabled",
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}

	rec, err := e.Store.Get(ctx, e.Cfg.Table, req.RecUID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeRecordNotFound,
			Message: fmt.Sprintf("record %d not found", req.RecUID),
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}
	if view, derr := e.authorize(req, rec); derr != nil {
		out.View = view
		out.Err = derr
		return out, nil
	}

	if req.Preview || req.DoNotSave {
		out.Record = rec
		out.View = ViewDeletePreview
		return out, nil
	}

	snapshot, err := e.deleteRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	out.Record = snapshot
	out.View = ViewDeleteSaved
	e.afterMutation(ctx, out)
	e.notifySaved(ctx, ViewDeleteSaved, snapshot)
	return out, nil
}

// editMenu lists the caller's editable records when edit is invoked without
// a target.
func (e *Engine) editMenu(ctx context.Context, req *Request, out *Outcome) (*Outcome, error) {
	if !req.LoggedIn {
		out.View = ViewAuth
		out.Err = &DispatchError{
			Code:    ErrCodePermissionDenied,
			Message: "login is required",
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}
	lockPid := int64(0)
	if e.Cfg.Edit.MenuLockPid {
		lockPid = e.Cfg.Pid
	}
	recs, err := e.Store.ListEditable(ctx, e.Cfg.Table, req.User,
		e.Cfg.Permissions.AllowedGroups, e.Cfg.Permissions.UserEditSelf, lockPid)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		out.View = ViewEditMenuEmpty
		return out, nil
	}
	out.View = ViewEditMenu
	out.Fields = record.Fields{"menu_count": int64(len(recs))}
	return out, nil
}

// defaultFields populates the initial form values: the stored record on
// edit, the configured defaults on create.
func (e *Engine) defaultFields(key string, stored record.Record) record.Fields {
	fields := record.Fields{}
	if stored != nil {
		for _, f := range e.allowedFields(key) {
			fields[f] = stored[f]
		}
		return fields
	}
	for field, value := range e.Cfg.Command(key).DefaultValues {
		fields[field] = value
	}
	return fields
}

func (e *Engine) uploadFolder(field string) string {
	tbl, _ := e.table()
	return tbl.UploadFolder(field)
}

// formView maps a command to its form/preview view key.
func formView(cmd string, preview bool) string {
	if cmd == CmdEdit {
		if preview {
			return ViewEditPreview
		}
		return ViewEdit
	}
	if preview {
		return ViewCreatePreview
	}
	return ViewCreate
}
