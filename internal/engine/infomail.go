package engine

import (
	"context"
	"fmt"

	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/validate"
)

// Infomail fetch limits: a uid fetch targets one record, a value fetch
// batches at most this many.
const (
	infoMailUIDLimit   = 1
	infoMailValueLimit = 100
)

// dispatchInfoMail handles the request-email command: fetch matching
// records and compile the configured message to them, or show the request
// form when there is nothing to fetch yet.
func (e *Engine) dispatchInfoMail(ctx context.Context, req *Request, out *Outcome) (*Outcome, error) {
	if !e.Cfg.InfoMail.Enabled {
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeCommandDisabled,
			Message: "command \"infomail\" is not enabled",
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}

	if req.Fetch == "" {
		out.View = ViewInfoMail
		return out, nil
	}

	entry, ok := e.Cfg.InfoMail.Entry(req.Key)
	if !ok {
		out.View = ViewError
		out.Err = &DispatchError{
			Code:    ErrCodeNotConfigured,
			Message: fmt.Sprintf("no infomail entry for key %q", req.Key),
			Table:   e.Cfg.Table,
			Cmd:     out.Cmd,
		}
		return out, nil
	}

	// A CAPTCHA failure on the request form counts like an empty fetch.
	if e.Captcha != nil && !e.Captcha.Verify(ctx) {
		out.View = ViewInfoMail
		out.Validation = &validate.Result{}
		out.Validation.Add(validate.CaptchaField, "Wrong verification code!")
		return out, nil
	}

	records, err := e.fetchInfoMailRecords(ctx, req.Fetch, entry.DontLockPid)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		out.View = ViewInfoMailEmpty
		return out, nil
	}

	if e.Notifier != nil {
		recipient := records[0].Str(e.Cfg.Email.Field)
		e.Notifier.Compile(ctx, entry.Label, records, recipient)
	}
	out.View = ViewInfoMailSent
	out.NoCache = true
	return out, nil
}

// fetchInfoMailRecords resolves the fetch spec: numeric fetches one record
// by id, anything else matches the configured email field. The lookup is
// locked to the configured container (optionally its whole subtree) unless
// the entry lifts the lock.
func (e *Engine) fetchInfoMailRecords(ctx context.Context, fetch string, dontLockPid bool) ([]record.Record, error) {
	var pids []int64
	if !dontLockPid {
		if e.Cfg.InfoMail.PidRecursive {
			subtree, err := e.Store.TreeList(ctx, e.Cfg.Pid, validate.DefaultBranchDepth)
			if err != nil {
				return nil, fmt.Errorf("expanding infomail scope: %w", err)
			}
			pids = subtree
		} else {
			pids = []int64{e.Cfg.Pid}
		}
	}

	// Only the canonical decimal form counts as a uid fetch. A padded or
	// decorated numeric like "007" falls through to the email-field match,
	// so it can never alias another record's uid.
	if uid := record.Intify(fetch); uid > 0 && fmt.Sprint(uid) == fetch {
		recs, err := e.Store.FindByField(ctx, e.Cfg.Table, "uid", fetch, pids, infoMailUIDLimit)
		if err != nil {
			return nil, fmt.Errorf("infomail uid fetch: %w", err)
		}
		return recs, nil
	}

	if e.Cfg.Email.Field == "" {
		return nil, nil
	}
	recs, err := e.Store.FindByField(ctx, e.Cfg.Table, e.Cfg.Email.Field, fetch, pids, infoMailValueLimit)
	if err != nil {
		return nil, fmt.Errorf("infomail value fetch: %w", err)
	}
	return recs, nil
}
