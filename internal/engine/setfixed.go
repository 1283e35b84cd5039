package engine

import (
	"context"
	"fmt"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/record"
)

// dispatchSetFixed runs a one-click action. Authorization is solely the
// capability token, computed over the action's field subset of the record
// with the announced values overlaid; there is no login fallback. Any
// mismatch - unknown action, missing record, wrong token - yields the same
// failed view with no mutation and no detail about what was wrong.
func (e *Engine) dispatchSetFixed(ctx context.Context, req *Request, out *Outcome) (*Outcome, error) {
	if !e.Cfg.SetFixed.Enabled || e.Tokens == nil {
		return e.setFixedFailed(out, "setfixed is not enabled"), nil
	}
	action, ok := e.Cfg.SetFixed.Actions[req.FixedKey]
	if !ok {
		return e.setFixedFailed(out, fmt.Sprintf("unknown action %q", req.FixedKey)), nil
	}

	rec, err := e.Store.Get(ctx, e.Cfg.Table, req.RecUID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return e.setFixedFailed(out, fmt.Sprintf("record %d not found", req.RecUID)), nil
	}

	// The token covers the state the link announces, not the state stored
	// right now: the action's configured values plus the link's fD payload
	// are overlaid before hashing, exactly as the issuer did. An already
	// applied link therefore verifies again, while a tampered fD value
	// shifts the digest and fails.
	tokenRec := record.Overlay(rec, action.Values, req.FixedData)
	if !e.Tokens.VerifyFixed(tokenRec, action.TokenFields(), req.AuthCode) {
		return e.setFixedFailed(out, "token mismatch"), nil
	}

	if req.FixedKey == config.ActionDelete {
		snapshot, err := e.deleteRecord(ctx, rec)
		if err != nil {
			return nil, err
		}
		out.Record = snapshot
	} else {
		patch := record.Fields{}
		cols := make([]string, 0, len(action.Values))
		for field, value := range action.Values {
			patch[field] = value
			cols = append(cols, field)
		}
		if err := e.Store.Update(ctx, e.Cfg.Table, rec.UID(), patch, cols); err != nil {
			return nil, fmt.Errorf("applying action %q to %d: %w", req.FixedKey, rec.UID(), err)
		}
		updated, err := e.reload(ctx, rec.UID())
		if err != nil {
			return nil, err
		}
		updated, err = e.runPostSave(ctx, updated, rec)
		if err != nil {
			return nil, err
		}
		out.Record = updated
	}

	out.View = ViewSetFixedOK + "_" + req.FixedKey
	e.afterMutation(ctx, out)
	e.notifySaved(ctx, "SETFIXED_"+req.FixedKey, out.Record)
	return out, nil
}

// setFixedFailed records the internal reason (log only) and returns the
// uniform failed outcome.
func (e *Engine) setFixedFailed(out *Outcome, reason string) *Outcome {
	if e.Log != nil {
		e.Log.Debug("setfixed rejected", "table", e.Cfg.Table, "reason", reason)
	}
	out.View = ViewSetFixedFail
	out.Err = &DispatchError{
		Code:    ErrCodeTokenMismatch,
		Message: "the link could not be verified",
		Table:   e.Cfg.Table,
		Cmd:     CmdSetFixed,
	}
	return out
}
