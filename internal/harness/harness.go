package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fegate/internal/authcode"
	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/engine"
	"github.com/roach88/fegate/internal/notify"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/schema"
	"github.com/roach88/fegate/internal/store"
)

// EncryptionKey is the fixed process key harness runs use, so issued tokens
// are deterministic across runs.
const EncryptionKey = "harness-encryption-key"

// StepOutcome is the recorded result of one step.
type StepOutcome struct {
	Cmd      string              `json:"cmd"`
	View     string              `json:"view"`
	Saved    bool                `json:"saved"`
	Failures map[string][]string `json:"failures,omitempty"`
	Error    string              `json:"error,omitempty"`
	Mail     []MailOutcome       `json:"mail,omitempty"`
}

// MailOutcome is one compiled notification, as captured by the harness
// mailer.
type MailOutcome struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    bool   `json:"html,omitempty"`
}

// Result is the full scenario outcome.
type Result struct {
	Steps []StepOutcome

	// Failures lists expectation mismatches, one line each. Empty means
	// the scenario passed.
	Failures []string
}

type captureMailer struct {
	sent []notify.Message
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

// keyRenderer renders the template key as the subject line, which is all a
// behavior snapshot needs.
type keyRenderer struct{}

func (keyRenderer) Render(key string, rec record.Record, _ notify.Links) string {
	return key + "\nrecord " + rec.Str("uid") + "\n"
}

// Run executes a scenario against a fresh in-memory database.
func Run(scenario *Scenario) (*Result, error) {
	cfg, reg, err := config.LoadDocumentFile(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	st, err := store.Open(":memory:", reg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := synthesizeTables(st, reg); err != nil {
		return nil, err
	}
	for i, seed := range scenario.Seed {
		if err := insertSeed(st, seed); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	mailer := &captureMailer{}
	tokens := authcode.New(cfg.AuthCode, authcode.StaticSecret(EncryptionKey), nil)
	eng := engine.New(cfg, reg, st, tokens, nil)
	eng.Notifier = &notify.Compiler{
		Cfg:      cfg,
		Tokens:   tokens,
		Renderer: keyRenderer{},
		Mailer:   mailer,
	}

	result := &Result{}
	ctx := context.Background()

	for i, step := range scenario.Steps {
		req, err := buildRequest(ctx, step.Request, cfg, st, tokens)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		mailStart := len(mailer.sent)
		outcome, err := eng.Dispatch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: dispatch: %w", i, err)
		}

		so := StepOutcome{Cmd: outcome.Cmd, View: outcome.View, Saved: outcome.Saved}
		if outcome.Validation != nil && !outcome.Validation.OK() {
			so.Failures = make(map[string][]string)
			for _, f := range outcome.Validation.Fields() {
				so.Failures[f] = outcome.Validation.Messages(f)
			}
		}
		if outcome.Err != nil {
			so.Error = string(outcome.Err.Code)
		}
		for _, msg := range mailer.sent[mailStart:] {
			so.Mail = append(so.Mail, MailOutcome{To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
		}
		result.Steps = append(result.Steps, so)

		checkExpectation(result, i, step.Expect, so, outcome)
	}

	for i, a := range scenario.Assertions {
		if err := checkState(ctx, st, i, a, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// buildRequest converts a RequestSpec, resolving token placeholders against
// the live record.
func buildRequest(ctx context.Context, spec RequestSpec, cfg *config.Config, st *store.Store, tokens *authcode.Service) (*engine.Request, error) {
	req := &engine.Request{
		Cmd:       spec.Cmd,
		RecUID:    spec.UID,
		AuthCode:  spec.AuthCode,
		FixedKey:  spec.FixedKey,
		Fetch:     spec.Fetch,
		Key:       spec.Key,
		Preview:   spec.Preview,
		DoNotSave: spec.DoNotSave,
	}
	if len(spec.Fields) > 0 {
		req.Fields = record.Fields{}
		for k, v := range spec.Fields {
			req.Fields[k] = record.Stringify(v)
		}
	}
	if spec.User > 0 {
		user, err := st.LookupUser(ctx, spec.User)
		if err != nil {
			return nil, err
		}
		req.LoggedIn = user != nil
		req.User = user
	}

	switch spec.AuthCode {
	case TokenIssue, TokenTamper:
		rec, err := st.Get(ctx, cfg.Table, spec.UID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no record %d to issue a token for", spec.UID)
		}
		token := tokens.Issue(rec, "")
		if spec.AuthCode == TokenTamper {
			token = tamper(token)
		}
		req.AuthCode = token
	case TokenFixed:
		rec, err := st.Get(ctx, cfg.Table, spec.UID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no record %d to issue a token for", spec.UID)
		}
		action, ok := cfg.SetFixed.Actions[spec.FixedKey]
		if !ok {
			return nil, fmt.Errorf("unknown setfixed action %q", spec.FixedKey)
		}
		req.AuthCode = tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())
	}
	return req, nil
}

func tamper(token string) string {
	if token == "" {
		return "0"
	}
	if token[0] == '0' {
		return "1" + token[1:]
	}
	return "0" + token[1:]
}

func checkExpectation(result *Result, i int, expect *ExpectClause, so StepOutcome, outcome *engine.Outcome) {
	if expect == nil {
		return
	}
	if so.View != expect.View {
		result.Failures = append(result.Failures,
			fmt.Sprintf("steps[%d]: view = %s, want %s", i, so.View, expect.View))
	}
	if so.Saved != expect.Saved {
		result.Failures = append(result.Failures,
			fmt.Sprintf("steps[%d]: saved = %v, want %v", i, so.Saved, expect.Saved))
	}
	if len(expect.Failures) > 0 {
		var got []string
		if outcome.Validation != nil {
			got = outcome.Validation.Fields()
		}
		if strings.Join(got, ",") != strings.Join(expect.Failures, ",") {
			result.Failures = append(result.Failures,
				fmt.Sprintf("steps[%d]: failures = %v, want %v", i, got, expect.Failures))
		}
	}
}

func checkState(ctx context.Context, st *store.Store, i int, a StateAssertion, result *Result) error {
	rows, err := queryState(ctx, st, a)
	if err != nil {
		return fmt.Errorf("assertions[%d]: %w", i, err)
	}

	if a.Count > 0 && len(rows) != a.Count {
		result.Failures = append(result.Failures,
			fmt.Sprintf("assertions[%d]: %d matching rows, want %d", i, len(rows), a.Count))
		return nil
	}
	if len(a.Expect) == 0 {
		return nil
	}
	if len(rows) == 0 {
		result.Failures = append(result.Failures,
			fmt.Sprintf("assertions[%d]: no matching row in %s", i, a.Table))
		return nil
	}
	row := rows[0]
	for _, field := range sortedKeys(a.Expect) {
		want := record.Stringify(a.Expect[field])
		got := row.Str(field)
		if got != want {
			result.Failures = append(result.Failures,
				fmt.Sprintf("assertions[%d]: %s.%s = %q, want %q", i, a.Table, field, got, want))
		}
	}
	return nil
}

// queryState filters a table's rows by exact match on the Where fields.
func queryState(ctx context.Context, st *store.Store, a StateAssertion) ([]record.Record, error) {
	if len(a.Where) == 1 {
		for field, value := range a.Where {
			return st.FindByField(ctx, a.Table, field, record.Stringify(value), nil, 0)
		}
	}

	// No filter, or a multi-field one: scan and match in memory.
	rows, err := st.DB().QueryContext(ctx, "SELECT * FROM "+a.Table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []record.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := record.Record{}
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = vals[i]
			}
		}
		if matchesWhere(rec, a.Where) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func matchesWhere(rec record.Record, where map[string]any) bool {
	for field, value := range where {
		if rec.Str(field) != record.Stringify(value) {
			return false
		}
	}
	return true
}

// synthesizeTables creates a usable SQLite schema from the registry: uid,
// pid, the soft-delete and ownership columns, and every listed field as
// TEXT. Production owns its real schema; scenarios only need the shape.
func synthesizeTables(st *store.Store, reg *schema.Registry) error {
	tables := registryTables(reg)
	for _, tbl := range tables {
		cols := []string{
			"uid INTEGER PRIMARY KEY AUTOINCREMENT",
			"pid INTEGER NOT NULL DEFAULT 0",
		}
		seen := map[string]bool{"uid": true, "pid": true}
		add := func(name, ddl string) {
			if name == "" || seen[name] {
				return
			}
			seen[name] = true
			cols = append(cols, ddl)
		}
		add(tbl.SoftDeleteColumn, tbl.SoftDeleteColumn+" INTEGER NOT NULL DEFAULT 0")
		add(tbl.CruserColumn, tbl.CruserColumn+" INTEGER NOT NULL DEFAULT 0")
		add(tbl.CrgroupColumn, tbl.CrgroupColumn+" INTEGER NOT NULL DEFAULT 0")
		if tbl.UserTable {
			add("usergroup", "usergroup TEXT NOT NULL DEFAULT ''")
		}
		for _, f := range tbl.FieldList {
			add(f, f+" TEXT NOT NULL DEFAULT ''")
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", tbl.Name, strings.Join(cols, ", "))
		if _, err := st.DB().Exec(ddl); err != nil {
			return fmt.Errorf("creating %s: %w", tbl.Name, err)
		}
	}
	if _, err := st.DB().Exec(
		"CREATE TABLE IF NOT EXISTS pages (uid INTEGER PRIMARY KEY AUTOINCREMENT, pid INTEGER NOT NULL DEFAULT 0)"); err != nil {
		return fmt.Errorf("creating pages: %w", err)
	}
	return nil
}

// registryTables lists the registry's tables in name order.
func registryTables(reg *schema.Registry) []schema.Table {
	names := reg.Names()
	sort.Strings(names)
	tables := make([]schema.Table, 0, len(names))
	for _, name := range names {
		if t, ok := reg.Lookup(name); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

func insertSeed(st *store.Store, seed SeedRow) error {
	cols := sortedKeys(seed.Row)
	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, seed.Row[c])
		marks = append(marks, "?")
	}
	_, err := st.DB().Exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		seed.Table, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	return err
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
