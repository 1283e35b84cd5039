package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fegate/internal/authcode"
	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/directive"
	"github.com/roach88/fegate/internal/notify"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/schema"
	"github.com/roach88/fegate/internal/store"
	"github.com/roach88/fegate/internal/upload"
	"github.com/roach88/fegate/internal/validate"
)

type captureMailer struct {
	sent []notify.Message
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type keyRenderer struct{}

func (keyRenderer) Render(key string, rec record.Record, _ notify.Links) string {
	return key + "\nrecord " + rec.Str("email") + "\n"
}

type captureCache struct {
	cleared [][]int64
}

func (c *captureCache) Clear(_ context.Context, pids []int64) {
	c.cleared = append(c.cleared, pids)
}

type testEnv struct {
	engine *Engine
	store  *store.Store
	mailer *captureMailer
	cache  *captureCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := schema.NewRegistry(
		schema.Table{
			Name:      "tx_subscribers",
			FieldList: []string{"name", "email", "zip", "hidden", "image"},
			Files:     map[string]string{"image": "pics"},
		},
		schema.Table{
			Name:          "fe_users",
			FieldList:     []string{"username", "email", "usergroup"},
			UserTable:     true,
			CruserColumn:  "fe_cruser_id",
			CrgroupColumn: "fe_crgroup_id",
		},
	)

	st, err := store.Open(":memory:", reg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, ddl := range []string{
		`CREATE TABLE tx_subscribers (
			uid INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			zip TEXT NOT NULL DEFAULT '',
			hidden INTEGER NOT NULL DEFAULT 0,
			image TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE fe_users (
			uid INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			usergroup TEXT NOT NULL DEFAULT '',
			fe_cruser_id INTEGER NOT NULL DEFAULT 0,
			fe_crgroup_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE pages (
			uid INTEGER PRIMARY KEY AUTOINCREMENT,
			pid INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		_, err := st.DB().Exec(ddl)
		require.NoError(t, err)
	}

	cfg := &config.Config{
		Table:           "tx_subscribers",
		Pid:             5,
		ClearCachePages: []int64{5, 6},
		Create: config.CommandConfig{
			Enabled:  true,
			Fields:   []string{"name", "email", "zip", "hidden", "image"},
			Required: []string{"email"},
			EvalValues: directive.Map{
				"email": directive.ParseList("email"),
			},
		},
		Edit: config.CommandConfig{
			Enabled: true,
			Fields:  []string{"name", "email", "zip"},
		},
		Delete: config.ToggleConfig{Enabled: true},
		SetFixed: config.SetFixedConfig{
			Enabled: true,
			Actions: map[string]config.SetFixedAction{
				"approve": {Values: map[string]string{"hidden": "0"}},
				config.ActionDelete: {FieldList: []string{"uid", "email"}},
			},
		},
		InfoMail: config.InfoMailConfig{
			Enabled: true,
			Entries: map[string]config.InfoMailEntry{
				"default": {Label: "INFOMAIL"},
			},
		},
		AuthCode: config.AuthCodeConfig{
			Fields: []string{"uid", "email"},
			AddKey: "shared",
		},
		Email: config.EmailConfig{Field: "email", From: "noreply@example.org"},
	}

	mailer := &captureMailer{}
	cache := &captureCache{}
	tokens := authcode.New(cfg.AuthCode, authcode.StaticSecret("enc-key"), nil)

	eng := New(cfg, reg, st, tokens, nil)
	eng.Cache = cache
	eng.Uploads = upload.New(t.TempDir(), t.TempDir(), nil)
	eng.Notifier = &notify.Compiler{
		Cfg:      cfg,
		Tokens:   tokens,
		Renderer: keyRenderer{},
		Mailer:   mailer,
	}

	return &testEnv{engine: eng, store: st, mailer: mailer, cache: cache}
}

func (env *testEnv) mustGet(t *testing.T, uid int64) record.Record {
	t.Helper()
	rec, err := env.store.Get(context.Background(), "tx_subscribers", uid)
	require.NoError(t, err)
	return rec
}

// ============================================================================
// Create
// ============================================================================

func TestDispatch_CreateSaves(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com", "name": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreateSaved, out.View)
	assert.True(t, out.Saved)
	assert.True(t, out.NoCache)
	require.NotNil(t, out.Record)
	assert.Equal(t, "x@y.com", out.Record.Str("email"))
	assert.Equal(t, int64(5), out.Record.Pid())

	// Notification compiled to the record's own address.
	require.NotEmpty(t, env.mailer.sent)
	assert.Equal(t, "x@y.com", env.mailer.sent[0].To)
	assert.Equal(t, "CREATE_SAVED", env.mailer.sent[0].Subject)

	// Cache targets invalidated.
	require.Len(t, env.cache.cleared, 1)
	assert.Equal(t, []int64{5, 6}, env.cache.cleared[0])
}

func TestDispatch_CreateValidationFailureRedisplays(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:     CmdCreate,
		Preview: true,
		Fields:  record.Fields{"email": "not-an-email"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreate, out.View, "failure forces preview off")
	assert.False(t, out.Saved)
	require.NotNil(t, out.Validation)
	assert.True(t, out.Validation.Has("email"))
	assert.Empty(t, env.mailer.sent)

	recs, err := env.store.FindByField(context.Background(), "tx_subscribers", "email", "not-an-email", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "nothing persisted on validation failure")
}

func TestDispatch_CreatePreviewDefersSave(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:     CmdCreate,
		Preview: true,
		Fields:  record.Fields{"email": "x@y.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreatePreview, out.View)
	assert.False(t, out.Saved)

	recs, err := env.store.FindByField(context.Background(), "tx_subscribers", "email", "x@y.com", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDispatch_PreviewedUploadSurvivesToSave(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.ParseValues = directive.ParseMap(map[string]string{"image": "files[jpg]"})

	callerTmp := filepath.Join(t.TempDir(), "in.jpg")
	require.NoError(t, os.WriteFile(callerTmp, []byte("jpeg"), 0o644))

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:     CmdCreate,
		Preview: true,
		Fields: record.Fields{
			"email": "x@y.com",
			"image": []record.Upload{{Name: "photo.jpg", TmpPath: callerTmp}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, ViewCreatePreview, out.View)

	ref := out.Fields.Str("image")
	staged, _, ok := strings.Cut(ref, "|")
	require.True(t, ok)
	stagedPath := filepath.Join(env.engine.Uploads.TempDir, staged)
	_, statErr := os.Stat(stagedPath)
	require.NoError(t, statErr, "the staging copy survives the preview dispatch")

	// The previewed submission comes back with the reference string and the
	// save consumes the staged copy.
	out, err = env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com", "image": ref},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreateSaved, out.View)
	assert.Equal(t, "photo.jpg", out.Record.Str("image"))
	assert.True(t, env.engine.Uploads.Exists("pics", "photo.jpg"))
	_, statErr = os.Stat(stagedPath)
	assert.True(t, os.IsNotExist(statErr), "the consumed staging copy is unlinked after the save")
}

func TestDispatch_DoNotSaveShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:       CmdCreate,
		DoNotSave: true,
		Fields:    record.Fields{"email": "x@y.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreate, out.View)
	assert.False(t, out.Saved)
}

func TestDispatch_NoSubmissionShowsDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Create.DefaultValues = map[string]string{"zip": "8000"}

	out, err := env.engine.Dispatch(context.Background(), &Request{Cmd: CmdCreate})
	require.NoError(t, err)

	assert.Equal(t, ViewCreate, out.View)
	assert.Equal(t, "8000", out.Fields.Str("zip"))
}

func TestDispatch_CaptchaOnlyPayloadIsNoSubmission(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"captcha": "abcd"},
	})
	require.NoError(t, err)
	assert.Equal(t, ViewCreate, out.View)
	assert.Nil(t, out.Validation)
}

func TestDispatch_OverrideValuesWinOverSubmission(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Create.OverrideValues = map[string]string{"hidden": "1"}

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com", "hidden": "0"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreateSaved, out.View)
	assert.Equal(t, int64(1), record.Intify(out.Record["hidden"]))
}

func TestDispatch_SelfOwnershipStamps(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Table = "fe_users"
	env.engine.Cfg.Create.Fields = []string{"username", "email", "usergroup"}
	env.engine.Cfg.Permissions.UserOwnSelf = true

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com", "username": "ada", "usergroup": "3,4"},
	})
	require.NoError(t, err)
	require.Equal(t, ViewCreateSaved, out.View)

	assert.Equal(t, out.Record.UID(), record.Intify(out.Record["fe_cruser_id"]),
		"new user record owns itself")
	assert.Equal(t, int64(3), record.Intify(out.Record["fe_crgroup_id"]),
		"group stamp takes the first submitted group")
}

// ============================================================================
// Edit
// ============================================================================

func seedSubscriber(t *testing.T, env *testEnv, email string) int64 {
	t.Helper()
	uid, err := env.store.Insert(context.Background(), "tx_subscribers", 5,
		record.Fields{"email": email, "name": "Ada", "hidden": int64(1)},
		[]string{"email", "name", "hidden"})
	require.NoError(t, err)
	return uid
}

func TestDispatch_EditWithValidToken(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)
	token := env.engine.Tokens.Issue(rec, "")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdEdit,
		RecUID:   uid,
		AuthCode: token,
		Fields:   record.Fields{"name": "Grace"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewEditSaved, out.View)
	assert.Equal(t, "Grace", out.Record.Str("name"))
	assert.Equal(t, "x@y.com", out.Record.Str("email"))
}

func TestDispatch_EditWithoutIdentityShowsAuth(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdEdit,
		RecUID: uid,
		Fields: record.Fields{"name": "Mallory"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewAuth, out.View)
	require.NotNil(t, out.Err)
	assert.Equal(t, ErrCodePermissionDenied, out.Err.Code)
	assert.Equal(t, "Ada", env.mustGet(t, uid).Str("name"), "no mutation on permission failure")
}

func TestDispatch_EditTamperedTokenShowsAuth(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)
	token := env.engine.Tokens.Issue(rec, "")
	tampered := "0" + token[1:]
	if tampered == token {
		tampered = "1" + token[1:]
	}

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdEdit,
		RecUID:   uid,
		AuthCode: tampered,
		Fields:   record.Fields{"name": "Mallory"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewAuth, out.View)
	assert.Equal(t, "Ada", env.mustGet(t, uid).Str("name"))
}

func TestDispatch_EditLoggedInWithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdEdit,
		RecUID:   uid,
		LoggedIn: true,
		User:     record.Record{"uid": int64(77)},
		Fields:   record.Fields{"name": "Mallory"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewNoPermissions, out.View)
	assert.Equal(t, "Ada", env.mustGet(t, uid).Str("name"))
}

func TestDispatch_EditRestrictedToCommandAllowlist(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)
	token := env.engine.Tokens.Issue(rec, "")

	// "hidden" is in the global list but not in the edit command's list.
	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdEdit,
		RecUID:   uid,
		AuthCode: token,
		Fields:   record.Fields{"name": "Grace", "hidden": "0"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewEditSaved, out.View)
	assert.Equal(t, int64(1), record.Intify(out.Record["hidden"]))
}

func TestDispatch_EditMenu(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Table = "fe_users"
	env.engine.Cfg.Permissions.UserEditSelf = true

	_, err := env.store.DB().Exec(
		"INSERT INTO fe_users (uid, username, email) VALUES (30, 'ada', 'a@b.com')")
	require.NoError(t, err)
	ada, err := env.store.LookupUser(context.Background(), 30)
	require.NoError(t, err)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdEdit,
		LoggedIn: true,
		User:     ada,
	})
	require.NoError(t, err)
	assert.Equal(t, ViewEditMenu, out.View)

	// An anonymous caller gets sent to login instead.
	out, err = env.engine.Dispatch(context.Background(), &Request{Cmd: CmdEdit})
	require.NoError(t, err)
	assert.Equal(t, ViewAuth, out.View)
}

// ============================================================================
// Delete
// ============================================================================

func TestDispatch_DeletePreviewConfirms(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	token := env.engine.Tokens.Issue(env.mustGet(t, uid), "")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdDelete,
		RecUID:   uid,
		AuthCode: token,
		Preview:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, ViewDeletePreview, out.View)
	assert.NotNil(t, env.mustGet(t, uid), "preview does not delete")
}

func TestDispatch_DeleteErasesAttachedFiles(t *testing.T) {
	env := newTestEnv(t)

	picsDir := filepath.Join(env.engine.Uploads.BaseDir, "pics")
	require.NoError(t, os.MkdirAll(picsDir, 0o755))
	stored := filepath.Join(picsDir, "portrait.jpg")
	require.NoError(t, os.WriteFile(stored, []byte("jpeg"), 0o644))

	uid, err := env.store.Insert(context.Background(), "tx_subscribers", 5,
		record.Fields{"email": "x@y.com", "image": "portrait.jpg"},
		[]string{"email", "image"})
	require.NoError(t, err)
	token := env.engine.Tokens.Issue(env.mustGet(t, uid), "")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdDelete,
		RecUID:   uid,
		AuthCode: token,
	})
	require.NoError(t, err)

	assert.Equal(t, ViewDeleteSaved, out.View)
	assert.True(t, out.Saved)
	assert.Equal(t, "x@y.com", out.Record.Str("email"), "pre-delete snapshot retained")

	_, statErr := os.Stat(stored)
	assert.True(t, os.IsNotExist(statErr), "attached file erased from storage")
	assert.Nil(t, env.mustGet(t, uid), "row removed")
}

// ============================================================================
// One-click actions
// ============================================================================

func TestDispatch_SetFixedAppliesPatch(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)

	action := env.engine.Cfg.SetFixed.Actions["approve"]
	token := env.engine.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdSetFixed,
		RecUID:   uid,
		FixedKey: "approve",
		AuthCode: token,
	})
	require.NoError(t, err)

	assert.Equal(t, "SETFIXED_OK_approve", out.View)
	assert.True(t, out.Saved)
	assert.Equal(t, int64(0), record.Intify(out.Record["hidden"]))
	require.NotEmpty(t, env.mailer.sent)
	assert.Equal(t, "SETFIXED_approve", env.mailer.sent[0].Subject)
}

func TestDispatch_SetFixedTamperedTokenFails(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)

	action := env.engine.Cfg.SetFixed.Actions["approve"]
	token := env.engine.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())
	tampered := "f" + token[1:]
	if tampered == token {
		tampered = "0" + token[1:]
	}

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdSetFixed,
		RecUID:   uid,
		FixedKey: "approve",
		AuthCode: tampered,
	})
	require.NoError(t, err)

	assert.Equal(t, ViewSetFixedFail, out.View)
	require.NotNil(t, out.Err)
	assert.Equal(t, ErrCodeTokenMismatch, out.Err.Code)
	assert.Equal(t, int64(1), record.Intify(env.mustGet(t, uid)["hidden"]), "no mutation")
}

func TestDispatch_SetFixedUnknownActionFails(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdSetFixed,
		RecUID:   uid,
		FixedKey: "no-such-action",
		AuthCode: "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, ViewSetFixedFail, out.View)
}

func TestDispatch_SetFixedDelete(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)

	action := env.engine.Cfg.SetFixed.Actions[config.ActionDelete]
	token := env.engine.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:      CmdSetFixed,
		RecUID:   uid,
		FixedKey: config.ActionDelete,
		AuthCode: token,
	})
	require.NoError(t, err)

	assert.Equal(t, ViewSetFixedOK+"_"+config.ActionDelete, out.View)
	assert.Nil(t, env.mustGet(t, uid))
}

func TestDispatch_SetFixedLinkSurvivesReclick(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)

	action := env.engine.Cfg.SetFixed.Actions["approve"]
	token := env.engine.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())
	req := &Request{
		Cmd:       CmdSetFixed,
		RecUID:    uid,
		FixedKey:  "approve",
		AuthCode:  token,
		FixedData: action.Values,
	}

	out, err := env.engine.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "SETFIXED_OK_approve", out.View)
	require.Equal(t, int64(0), record.Intify(out.Record["hidden"]))

	// The same link clicked again: the token covers the announced state, so
	// it still matches the already-applied record.
	out, err = env.engine.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "SETFIXED_OK_approve", out.View)
	assert.Equal(t, int64(0), record.Intify(env.mustGet(t, uid)["hidden"]))
}

func TestDispatch_SetFixedDoctoredOverridesFail(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")
	rec := env.mustGet(t, uid)

	action := env.engine.Cfg.SetFixed.Actions["approve"]
	token := env.engine.Tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields())

	// A genuine token with a doctored field override: the overlay shifts the
	// digest, so verification fails.
	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:       CmdSetFixed,
		RecUID:    uid,
		FixedKey:  "approve",
		AuthCode:  token,
		FixedData: map[string]string{"hidden": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewSetFixedFail, out.View)
	assert.Equal(t, int64(1), record.Intify(env.mustGet(t, uid)["hidden"]), "no mutation")
}

// ============================================================================
// Infomail
// ============================================================================

func TestDispatch_InfoMailByValue(t *testing.T) {
	env := newTestEnv(t)
	seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:   CmdInfoMail,
		Fetch: "x@y.com",
	})
	require.NoError(t, err)

	assert.Equal(t, ViewInfoMailSent, out.View)
	require.NotEmpty(t, env.mailer.sent)
	assert.Equal(t, "x@y.com", env.mailer.sent[0].To)
	assert.Equal(t, "INFOMAIL", env.mailer.sent[0].Subject)
}

func TestDispatch_InfoMailByUID(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:   CmdInfoMail,
		Fetch: record.Stringify(uid),
	})
	require.NoError(t, err)
	assert.Equal(t, ViewInfoMailSent, out.View)
}

func TestDispatch_InfoMailPaddedUIDIsValueFetch(t *testing.T) {
	env := newTestEnv(t)
	uid := seedSubscriber(t, env, "x@y.com")

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:   CmdInfoMail,
		Fetch: "0" + record.Stringify(uid),
	})
	require.NoError(t, err)

	assert.Equal(t, ViewInfoMailEmpty, out.View, "a zero-padded number matches the email field, not the uid")
	assert.Empty(t, env.mailer.sent)
}

func TestDispatch_InfoMailNoMatch(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:   CmdInfoMail,
		Fetch: "nobody@example.org",
	})
	require.NoError(t, err)
	assert.Equal(t, ViewInfoMailEmpty, out.View)
	assert.Empty(t, env.mailer.sent)
}

func TestDispatch_InfoMailNoFetchShowsForm(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.engine.Dispatch(context.Background(), &Request{Cmd: CmdInfoMail})
	require.NoError(t, err)
	assert.Equal(t, ViewInfoMail, out.View)
}

func TestDispatch_InfoMailOutsideContainerLock(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Insert(context.Background(), "tx_subscribers", 99,
		record.Fields{"email": "far@y.com"}, []string{"email"})
	require.NoError(t, err)

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:   CmdInfoMail,
		Fetch: "far@y.com",
	})
	require.NoError(t, err)
	assert.Equal(t, ViewInfoMailEmpty, out.View, "records outside the configured container are not reachable")
}

// ============================================================================
// Dispatch plumbing
// ============================================================================

func TestDispatch_DefaultCommandFallback(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.DefaultCmd = CmdCreate

	out, err := env.engine.Dispatch(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, CmdCreate, out.Cmd)
	assert.Equal(t, ViewCreate, out.View)
}

func TestDispatch_DisabledCommand(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Delete.Enabled = false

	out, err := env.engine.Dispatch(context.Background(), &Request{Cmd: CmdDelete, RecUID: 1})
	require.NoError(t, err)
	assert.Equal(t, ViewError, out.View)
	require.NotNil(t, out.Err)
	assert.Equal(t, ErrCodeCommandDisabled, out.Err.Code)
}

func TestDispatch_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Cfg.Table = "tx_unknown"

	out, err := env.engine.Dispatch(context.Background(), &Request{Cmd: CmdCreate})
	require.NoError(t, err)
	assert.Equal(t, ViewError, out.View)
	require.NotNil(t, out.Err)
	assert.Equal(t, ErrCodeNotConfigured, out.Err.Code)
}

func TestDispatch_PostProcessHookCanReject(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Hooks.PostProcess = func(_ context.Context, _ string, fields record.Fields, res *validate.Result) {
		if fields.Str("name") == "blocked" {
			res.Add("name", "That name is not available.")
		}
	}

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com", "name": "blocked"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreate, out.View)
	assert.True(t, out.Validation.Has("name"))
}

func TestDispatch_PostSaveHookChangesAreReloaded(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Hooks.PostSave = func(ctx context.Context, newRec, orig record.Record) {
		if newRec == nil {
			return
		}
		_ = env.store.Update(ctx, "tx_subscribers", newRec.UID(),
			record.Fields{"zip": "stamped"}, []string{"zip"})
	}

	out, err := env.engine.Dispatch(context.Background(), &Request{
		Cmd:    CmdCreate,
		Fields: record.Fields{"email": "x@y.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, ViewCreateSaved, out.View)
	assert.Equal(t, "stamped", out.Record.Str("zip"), "hook mutation visible in the returned snapshot")
}
