// Package validate runs the per-field validation directives over a submission
// and aggregates every failure, so the caller can show all problems at once
// instead of stopping at the first.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/directive"
	"github.com/roach88/fegate/internal/record"
)

// DefaultBranchDepth bounds subtree expansion when inBranch gives no depth.
const DefaultBranchDepth = 999

// Lookup is the slice of the record store the validators need.
type Lookup interface {
	FindByField(ctx context.Context, table, field, value string, pids []int64, limit int) ([]record.Record, error)
	TreeList(ctx context.Context, root int64, maxDepth int) ([]int64, error)
}

// Verifier is the external CAPTCHA collaborator. Verify consumes the
// one-time session value; everything else about the pipeline is re-runnable.
type Verifier interface {
	Verify(ctx context.Context) bool
}

// CaptchaField is the failure-set key the CAPTCHA outcome is recorded under.
const CaptchaField = "captcha"

// Result collects validation failures: an ordered set of failing field names
// plus the per-field message lists. An empty Result means the submission is
// savable.
type Result struct {
	fields   []string
	messages map[string][]string
}

// Add records a failure message for a field, keeping first-failure order.
func (r *Result) Add(field, msg string) {
	if r.messages == nil {
		r.messages = make(map[string][]string)
	}
	if _, seen := r.messages[field]; !seen {
		r.fields = append(r.fields, field)
	}
	r.messages[field] = append(r.messages[field], msg)
}

// Remove drops a field from the failure set (unsetEmpty).
func (r *Result) Remove(field string) {
	if _, seen := r.messages[field]; !seen {
		return
	}
	delete(r.messages, field)
	for i, f := range r.fields {
		if f == field {
			r.fields = append(r.fields[:i], r.fields[i+1:]...)
			break
		}
	}
}

// OK reports whether the submission passed.
func (r *Result) OK() bool {
	return len(r.fields) == 0
}

// Fields returns the failing field names in first-failure order.
func (r *Result) Fields() []string {
	return r.fields
}

// Has reports whether the field failed.
func (r *Result) Has(field string) bool {
	_, ok := r.messages[field]
	return ok
}

// Messages returns the failure messages for one field, in directive order.
func (r *Result) Messages(field string) []string {
	return r.messages[field]
}

// Context carries the record identity the store-backed validators need.
type Context struct {
	// Table is the record table under validation.
	Table string

	// UID is the edited record's id (0 on create). A uniqueness match on
	// this id is the record itself, not a duplicate.
	UID int64

	// Stored is the pre-edit record, nil on create. Supplies the container
	// id for local uniqueness when the submission carries none.
	Stored record.Record
}

// Pipeline executes validation directive maps against submissions.
type Pipeline struct {
	Cfg     *config.Config
	Store   Lookup
	Captcha Verifier // optional; nil disables the check
	Log     *slog.Logger
}

// Apply runs the required-field check, then every field's directive list in
// declared order, then the CAPTCHA check. Fields may be mutated (unsetEmpty
// deletes empty optional fields). All failures aggregate; nothing
// short-circuits.
func (p *Pipeline) Apply(ctx context.Context, fields record.Fields, dirs directive.Map, required []string, rc Context) (*Result, error) {
	res := &Result{}

	for _, field := range required {
		if strings.TrimSpace(fields.Str(field)) == "" {
			res.Add(field, p.message(field, directive.Required, "You must enter a value!"))
		}
	}

	names := make([]string, 0, len(dirs))
	for f := range dirs {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, field := range names {
		for _, d := range dirs[field] {
			if err := p.applyOne(ctx, fields, field, d, rc, res); err != nil {
				return nil, err
			}
		}
	}

	if p.Captcha != nil && !p.Captcha.Verify(ctx) {
		res.Add(CaptchaField, "Wrong verification code!")
	}

	if p.Log != nil && !res.OK() {
		p.Log.Debug("validation failed", "table", rc.Table, "fields", res.Fields())
	}
	return res, nil
}

func (p *Pipeline) applyOne(ctx context.Context, fields record.Fields, field string, d directive.Directive, rc Context, res *Result) error {
	value := fields.Str(field)

	switch d.Verb {
	case directive.UniqueGlobal:
		return p.checkUnique(ctx, field, value, nil, rc, res)

	case directive.UniqueLocal:
		return p.checkUnique(ctx, field, value, []int64{p.testPid(fields, rc)}, rc, res)

	case directive.Twice:
		if value != fields.Str(field+"_again") {
			res.Add(field, p.message(field, d.Verb, "You must enter the same value twice!"))
		}

	case directive.Email:
		if !validEmail(value) {
			res.Add(field, p.message(field, d.Verb, "You must enter a valid email address!"))
		}

	case directive.Required:
		if strings.TrimSpace(value) == "" {
			res.Add(field, p.message(field, d.Verb, "You must enter a value!"))
		}

	case directive.AtLeast:
		n := d.ParamInt(0)
		if len(value) < n {
			res.Add(field, p.message(field, d.Verb,
				fmt.Sprintf("You must enter at least %d characters!", n)))
		}

	case directive.AtMost:
		n := d.ParamInt(0)
		if len(value) > n {
			res.Add(field, p.message(field, d.Verb,
				fmt.Sprintf("You must enter at most %d characters!", n)))
		}

	case directive.InBranch:
		params := d.ParamList(0)
		root := int64(0)
		depth := DefaultBranchDepth
		if len(params) > 0 {
			root = record.Intify(params[0])
		}
		if len(params) > 1 {
			if n := int(record.Intify(params[1])); n > 0 {
				depth = n
			}
		}
		branch, err := p.Store.TreeList(ctx, root, depth)
		if err != nil {
			return fmt.Errorf("expanding branch %d: %w", root, err)
		}
		target := record.Intify(fields[field])
		if !containsID(branch, target) {
			res.Add(field, p.message(field, d.Verb, "The value was outside the allowed branch!"))
		}

	case directive.UnsetEmpty:
		if strings.TrimSpace(value) == "" {
			delete(fields, field)
			res.Remove(field)
		}
	}
	// Unknown verbs are no-ops.
	return nil
}

// checkUnique queries for another live record holding the candidate value.
// Only the first match is examined; a match on the record's own id is the
// record itself and passes.
func (p *Pipeline) checkUnique(ctx context.Context, field, value string, pids []int64, rc Context, res *Result) error {
	recs, err := p.Store.FindByField(ctx, rc.Table, field, value, pids, 1)
	if err != nil {
		return fmt.Errorf("uniqueness check on %s: %w", field, err)
	}
	if len(recs) > 0 && recs[0].UID() != rc.UID {
		verb := directive.UniqueGlobal
		if len(pids) > 0 {
			verb = directive.UniqueLocal
		}
		res.Add(field, p.message(field, verb, "The value existed already!"))
	}
	return nil
}

// testPid resolves the container id the local uniqueness check scopes to:
// the submitted pid, else the stored record's pid, else the configured one.
func (p *Pipeline) testPid(fields record.Fields, rc Context) int64 {
	if fields.Has("pid") {
		return fields.Int("pid")
	}
	if rc.Stored != nil {
		return rc.Stored.Pid()
	}
	return p.Cfg.Pid
}

func (p *Pipeline) message(field, verb, fallback string) string {
	if p.Cfg == nil {
		return fallback
	}
	return p.Cfg.FailureMessage(field, verb, fallback)
}

// validEmail accepts a single plain address with a dotted domain.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func containsID(ids []int64, id int64) bool {
	for _, cand := range ids {
		if cand == id {
			return true
		}
	}
	return false
}
