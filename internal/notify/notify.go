// Package notify decides which notification message is compiled and to whom.
// Rendering and transport stay behind the Renderer/Mailer collaborators; this
// package owns recipient resolution, per-record fragment batching, the admin
// variant and the content-type/subject convention.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/fegate/internal/authcode"
	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/record"
)

// Renderer produces one message fragment for one record under a template
// key. Keys follow the command lifecycle ("CREATE_SAVED", "EDIT_SAVED",
// "DELETE_SAVED", "SETFIXED_...", infomail labels); "_ADMIN" is appended for
// the admin flavor. Returns "" when no template exists for the key.
type Renderer interface {
	Render(key string, rec record.Record, links Links) string
}

// Mailer is the outgoing mail transport.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one compiled notification.
type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	Body     string
	HTML     bool
}

// Links carries the pre-signed one-click URLs the renderer may embed,
// keyed by setfixed action name.
type Links map[string]string

// UserLookup resolves a numeric recipient spec to a user record.
type UserLookup interface {
	LookupUser(ctx context.Context, uid int64) (record.Record, error)
}

// Compiler builds and dispatches notifications.
type Compiler struct {
	Cfg      *config.Config
	Tokens   *authcode.Service
	Renderer Renderer
	Mailer   Mailer
	Users    UserLookup
	Log      *slog.Logger

	// BaseURL prefixes the one-click links ("" yields relative links).
	BaseURL string
}

// Compile renders the keyed message once per record, concatenates the
// fragments, and sends the result to the resolved recipient, plus the admin
// flavor when an admin address is configured. Transport failures are logged
// and never block the mutation outcome already shown to the user.
func (c *Compiler) Compile(ctx context.Context, key string, records []record.Record, recipient string) {
	if c.Renderer == nil || len(records) == 0 {
		return
	}

	to := c.resolveRecipient(ctx, recipient)
	if to != "" {
		body := c.renderAll(key, records)
		c.send(ctx, to, body)
	}

	if admin := c.Cfg.Email.Admin; admin != "" {
		body := c.renderAll(key+"_ADMIN", records)
		c.send(ctx, admin, body)
	}
}

// resolveRecipient maps a numeric spec to the user's email address and uses
// a non-numeric spec verbatim.
func (c *Compiler) resolveRecipient(ctx context.Context, spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	if uid := record.Intify(spec); uid > 0 && fmt.Sprint(uid) == spec {
		if c.Users == nil {
			return ""
		}
		user, err := c.Users.LookupUser(ctx, uid)
		if err != nil || user == nil {
			if c.Log != nil {
				c.Log.Warn("recipient lookup failed", "uid", uid, "error", err)
			}
			return ""
		}
		return user.Str("email")
	}
	return spec
}

func (c *Compiler) renderAll(key string, records []record.Record) string {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(c.Renderer.Render(key, rec, c.links(rec)))
	}
	return b.String()
}

// links pre-signs one one-click URL per configured setfixed action for the
// record.
func (c *Compiler) links(rec record.Record) Links {
	if !c.Cfg.SetFixed.Enabled || c.Tokens == nil || len(c.Cfg.SetFixed.Actions) == 0 {
		return nil
	}
	out := make(Links, len(c.Cfg.SetFixed.Actions))
	for name, action := range c.Cfg.SetFixed.Actions {
		out[name] = c.BaseURL + "?" + FixedLinkQuery(name, action, rec, c.Tokens)
	}
	return out
}

// FixedLinkQuery assembles the query string of a one-click action link:
// the command, the action key, the record id, the field patch and the
// pre-signed token. The token is computed over the record with the action's
// values overlaid, matching what the dispatcher recomputes on the click.
func FixedLinkQuery(name string, action config.SetFixedAction, rec record.Record, tokens *authcode.Service) string {
	v := url.Values{}
	v.Set("cmd", "setfixed")
	v.Set("sFK", name)
	v.Set("rU", fmt.Sprint(rec.UID()))
	for field, value := range action.Values {
		v.Set("fD["+field+"]", value)
	}
	v.Set("aC", tokens.IssueForFixedUpdate(record.Overlay(rec, action.Values), action.TokenFields()))
	return v.Encode()
}

// send splits the rendered body into its content-type flavor and hands it to
// the transport. A body wrapped in a top-level <html> marker goes out as
// HTML with no derived subject; otherwise the first line is the subject and
// the rest the plain-text body. Empty renders are skipped.
func (c *Compiler) send(ctx context.Context, to, body string) {
	if c.Mailer == nil || strings.TrimSpace(body) == "" {
		return
	}

	msg := Message{
		To:       to,
		From:     c.Cfg.Email.From,
		FromName: c.Cfg.Email.FromName,
	}

	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<html>") && strings.HasSuffix(lower, "</html>") {
		msg.HTML = true
		msg.Body = body
	} else {
		subject, rest, _ := strings.Cut(trimmed, "\n")
		msg.Subject = strings.TrimSpace(subject)
		msg.Body = strings.TrimLeft(rest, "\n")
	}

	if err := c.Mailer.Send(ctx, msg); err != nil && c.Log != nil {
		c.Log.Warn("mail dispatch failed", "to", to, "error", err)
	}
}
