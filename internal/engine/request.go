package engine

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/validate"
)

// Commands.
const (
	CmdCreate   = "create"
	CmdEdit     = "edit"
	CmdDelete   = "delete"
	CmdSetFixed = "setfixed"
	CmdInfoMail = "infomail"
)

// Terminal view keys. Rendering is the caller's concern; the engine only
// names the view.
const (
	ViewCreate        = "CREATE"
	ViewCreatePreview = "CREATE_PREVIEW"
	ViewCreateSaved   = "CREATE_SAVED"
	ViewEdit          = "EDIT"
	ViewEditPreview   = "EDIT_PREVIEW"
	ViewEditSaved     = "EDIT_SAVED"
	ViewEditMenu      = "EDITMENU"
	ViewEditMenuEmpty = "EDITMENU_NOITEMS"
	ViewDeletePreview = "DELETE_PREVIEW"
	ViewDeleteSaved   = "DELETE_SAVED"
	ViewAuth          = "AUTH"
	ViewNoPermissions = "NO_PERMISSIONS"
	ViewSetFixedOK    = "SETFIXED_OK"
	ViewSetFixedFail  = "SETFIXED_FAILED"
	ViewInfoMail      = "INFOMAIL"
	ViewInfoMailSent  = "INFOMAIL_SENT"
	ViewInfoMailEmpty = "INFOMAIL_NORECORD"
	ViewError         = "ERROR"
)

// Request is one decoded incoming command. HTTP parsing is out of scope;
// the caller hands the engine an already-decoded request.
type Request struct {
	// Cmd selects the command; empty falls back to the configured default.
	Cmd string

	// Fields is the submitted field bundle for create/edit.
	Fields record.Fields

	// RecUID targets an existing record (edit, delete, setfixed).
	RecUID int64

	// AuthCode is the presented capability token, if any.
	AuthCode string

	// FixedKey selects the one-click action; FixedData carries the link's
	// field overrides (covered by the token, not trusted on their own).
	FixedKey  string
	FixedData map[string]string

	// Fetch and Key drive the infomail command: the record filter and the
	// message config key.
	Fetch string
	Key   string

	// Preview requests the preview step; DoNotSave cancels persistence
	// unconditionally; NoWarnings suppresses failure display (view layer).
	Preview    bool
	DoNotSave  bool
	NoWarnings bool

	// BackURL is the return link; scrubbed before reuse.
	BackURL string

	// LoggedIn and User describe the caller's session, when any.
	LoggedIn bool
	User     record.Record
}

// HasSubmission reports whether the request carries field data beyond a
// CAPTCHA-only payload.
func (r *Request) HasSubmission() bool {
	for name := range r.Fields {
		if name != validate.CaptchaField {
			return true
		}
	}
	return false
}

// Outcome is the terminal result of one dispatch.
type Outcome struct {
	// View is the terminal view key for the caller's renderer.
	View string

	// Cmd is the command that actually ran (after default fallback).
	Cmd string

	// Record is the canonical record to render, when one exists. After a
	// save it reflects all hook-induced changes; after a delete it is the
	// pre-delete snapshot.
	Record record.Record

	// Fields is the redisplay field set (submission merged over the stored
	// record, or populated defaults).
	Fields record.Fields

	// Validation carries the aggregated failures for redisplay views.
	Validation *validate.Result

	// Saved reports a successful mutation.
	Saved bool

	// NoCache instructs the caller to emit no-cache/no-index response
	// headers. Set on every successful mutation.
	NoCache bool

	// BackURL is the scrubbed return link.
	BackURL string

	// Err is the named failure behind an error view, if any.
	Err *DispatchError
}

var xssMarkers = regexp.MustCompile(`(?i)javascript:|vbscript:|data:|<[^>]*>`)

// ScrubBackURL strips the scheme and host from an absolute return link and
// clears script-injection markers, so the value is safe to embed again.
func ScrubBackURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		raw = u.RequestURI()
		if u.Fragment != "" {
			raw += "#" + u.Fragment
		}
	}
	raw = xssMarkers.ReplaceAllString(raw, "")
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '`':
			return -1
		}
		return r
	}, raw)
}
