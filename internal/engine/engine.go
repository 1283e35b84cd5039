package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/fegate/internal/authcode"
	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/notify"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/schema"
	"github.com/roach88/fegate/internal/upload"
	"github.com/roach88/fegate/internal/validate"
)

// RecordStore is the persistence capability the engine depends on.
// *store.Store is the shipped implementation.
type RecordStore interface {
	Get(ctx context.Context, table string, uid int64) (record.Record, error)
	FindByField(ctx context.Context, table, field, value string, pids []int64, limit int) ([]record.Record, error)
	Insert(ctx context.Context, table string, pid int64, fields record.Fields, allow []string) (int64, error)
	Update(ctx context.Context, table string, uid int64, fields record.Fields, allow []string) error
	Delete(ctx context.Context, table string, uid int64) error
	TreeList(ctx context.Context, root int64, maxDepth int) ([]int64, error)
	LookupUser(ctx context.Context, uid int64) (record.Record, error)
	ListEditable(ctx context.Context, table string, user record.Record, allowedGroups []int64, editSelf bool, lockPid int64) ([]record.Record, error)
}

// CacheClearer invalidates external cache targets after a mutation.
type CacheClearer interface {
	Clear(ctx context.Context, pids []int64)
}

// Hooks are the optional caller-supplied extension points.
type Hooks struct {
	// PostProcess runs between validation and persistence and may mutate
	// the fields or add failures.
	PostProcess func(ctx context.Context, cmdKey string, fields record.Fields, res *validate.Result)

	// PostSave runs after every mutating branch with the new record and,
	// for edits, the original. The record is reloaded afterwards so hook
	// mutations are visible in the outcome.
	PostSave func(ctx context.Context, newRec, orig record.Record)
}

// Engine executes commands against one configuration.
type Engine struct {
	Cfg      *config.Config
	Reg      *schema.Registry
	Store    RecordStore
	Tokens   *authcode.Service
	Uploads  *upload.Store
	Captcha  validate.Verifier
	Cache    CacheClearer
	Notifier *notify.Compiler
	Hooks    Hooks
	Log      *slog.Logger
}

// New assembles an engine. A nil logger defaults to slog.Default().
func New(cfg *config.Config, reg *schema.Registry, st RecordStore, tokens *authcode.Service, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Cfg: cfg, Reg: reg, Store: st, Tokens: tokens, Log: log}
}

// table returns the configured table's metadata.
func (e *Engine) table() (schema.Table, bool) {
	return e.Reg.Lookup(e.Cfg.Table)
}

// allowedFields is the effective write allowlist for a command key: global
// table field list intersected with the command's field list.
func (e *Engine) allowedFields(key string) []string {
	return e.Cfg.AllowedFields(key, e.Reg.FieldList(e.Cfg.Table))
}

// validator builds the validation pipeline over the engine's collaborators.
func (e *Engine) validator() *validate.Pipeline {
	return &validate.Pipeline{Cfg: e.Cfg, Store: e.Store, Captcha: e.Captcha, Log: e.Log}
}

// notifySaved compiles the post-mutation notification, when a compiler is
// wired. The recipient comes from the configured email field of the record.
func (e *Engine) notifySaved(ctx context.Context, key string, rec record.Record) {
	if e.Notifier == nil || rec == nil {
		return
	}
	recipient := rec.Str(e.Cfg.Email.Field)
	e.Notifier.Compile(ctx, key, []record.Record{rec}, recipient)
}

// afterMutation clears the configured cache targets and marks the outcome
// as non-cacheable.
func (e *Engine) afterMutation(ctx context.Context, out *Outcome) {
	out.Saved = true
	out.NoCache = true
	if e.Cache != nil && len(e.Cfg.ClearCachePages) > 0 {
		e.Cache.Clear(ctx, e.Cfg.ClearCachePages)
	}
}
