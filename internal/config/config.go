// Package config defines the declarative configuration the engine runs on
// and its CUE loader.
//
// The configuration is the contract between the caller and the engine: which
// table is editable, which commands are enabled, which fields each command
// may write, how submitted values are transformed and validated, how
// capability tokens are computed, and where notifications go. Directive
// strings are parsed exactly once here; the rest of the engine only ever
// sees the parsed form.
package config

import (
	"fmt"
	"sort"

	"github.com/roach88/fegate/internal/directive"
)

// DefaultCodeLength is the capability-token length used when the
// configuration does not set one.
const DefaultCodeLength = 8

// Command keys. Every command resolves to one of the two field/validation
// profiles: "edit" for edit, "create" for everything else.
const (
	KeyCreate = "create"
	KeyEdit   = "edit"
)

// Config is the typed view over the declarative configuration.
type Config struct {
	// Table is the record table this configuration governs.
	Table string

	// Pid is the container id new records are created under and the
	// default uniqueness scope.
	Pid int64

	// DefaultCmd is used when a request carries no command.
	DefaultCmd string

	// Debug enables diagnostic logging for rejected uploads and branch
	// decisions.
	Debug bool

	// ClearCachePages lists external cache targets invalidated after every
	// successful mutation.
	ClearCachePages []int64

	// ParseValues holds the per-field transform directives, shared by all
	// commands.
	ParseValues directive.Map

	Create CommandConfig
	Edit   CommandConfig
	Delete ToggleConfig

	SetFixed SetFixedConfig
	InfoMail InfoMailConfig

	AuthCode AuthCodeConfig
	Email    EmailConfig

	Permissions PermissionConfig

	// EvalErrors maps field -> verb -> custom failure message, overriding
	// the built-in texts.
	EvalErrors map[string]map[string]string
}

// CommandConfig is the per-command profile for create and edit.
type CommandConfig struct {
	Enabled bool

	// Fields is the command's field allowlist. A field outside this list is
	// never written and can never be required.
	Fields []string

	// Required lists fields that must be non-empty after transforms. Only
	// the intersection with Fields is effective.
	Required []string

	// EvalValues holds the per-field validation directives.
	EvalValues directive.Map

	// OverrideValues are forced onto the submission after transforms.
	OverrideValues map[string]string

	// DefaultValues populate the form when there is no submission.
	DefaultValues map[string]string

	// Preview enables the preview step for this command.
	Preview bool

	// NoSpecialLoginForm suppresses the logged-in create variant
	// (consumed by the view layer).
	NoSpecialLoginForm bool

	// MenuLockPid restricts the edit menu to records under Pid.
	MenuLockPid bool
}

// ToggleConfig is a bare enabled flag (delete).
type ToggleConfig struct {
	Enabled bool
}

// SetFixedConfig configures the one-click actions.
type SetFixedConfig struct {
	Enabled bool

	// Actions maps the action key (sFK) to its definition. The reserved key
	// "DELETE" deletes the record instead of patching it.
	Actions map[string]SetFixedAction
}

// ActionDelete is the reserved setfixed action key that deletes the record.
const ActionDelete = "DELETE"

// SetFixedAction is one one-click action: the field values it applies and
// any extra fields folded into its token.
type SetFixedAction struct {
	// Values maps field -> value applied on a successful token match.
	Values map[string]string

	// FieldList names additional record fields covered by the token without
	// being changed.
	FieldList []string
}

// TokenFields returns the field names the action's token is computed over:
// the value keys (sorted for determinism) followed by FieldList, first
// occurrence wins.
func (a SetFixedAction) TokenFields() []string {
	keys := make([]string, 0, len(a.Values))
	for k := range a.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool, len(keys)+len(a.FieldList))
	out := make([]string, 0, len(keys)+len(a.FieldList))
	for _, f := range append(keys, a.FieldList...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// InfoMailConfig configures the request-email command.
type InfoMailConfig struct {
	Enabled bool

	// Entries maps the request key to its message config; the key "default"
	// is the fallback.
	Entries map[string]InfoMailEntry

	// PidRecursive widens the pid lock to the whole subtree under Pid.
	PidRecursive bool
}

// InfoMailEntry is one infomail message configuration.
type InfoMailEntry struct {
	// Label is the notification template key compiled for this entry.
	Label string

	// DontLockPid lifts the container restriction for the record lookup.
	DontLockPid bool
}

// Entry resolves a request key to its entry, falling back to "default".
func (c InfoMailConfig) Entry(key string) (InfoMailEntry, bool) {
	if e, ok := c.Entries[key]; ok {
		return e, true
	}
	e, ok := c.Entries["default"]
	return e, ok
}

// AuthCodeConfig holds the capability-token parameters.
type AuthCodeConfig struct {
	// Fields are the record fields folded into the default token.
	Fields []string

	// AddKey is the caller-supplied shared secret fragment.
	AddKey string

	// AddDate, when set, is a Go time layout; the formatted current date is
	// folded into the token so it rotates with the layout's granularity.
	AddDate string

	// CodeLength is the truncated token length (default 8).
	CodeLength int
}

// EmailConfig is the notification routing.
type EmailConfig struct {
	// Field is the record field holding the recipient address.
	Field string

	// Admin, when set, receives the admin-flavored message.
	Admin string

	From     string
	FromName string
}

// PermissionConfig parameterizes the group/self edit predicate.
type PermissionConfig struct {
	// AllowedGroups may edit records they do not own.
	AllowedGroups []int64

	// UserEditSelf lets a user record edit itself.
	UserEditSelf bool

	// UserOwnSelf stamps newly created user records as their own owner.
	UserOwnSelf bool
}

// CmdKey maps a command to its profile key: "edit" for edit, otherwise
// "create" (delete, setfixed and infomail reuse the create profile where
// they need one).
func CmdKey(cmd string) string {
	if cmd == KeyEdit {
		return KeyEdit
	}
	return KeyCreate
}

// Command returns the profile for a command key.
func (c *Config) Command(key string) CommandConfig {
	if key == KeyEdit {
		return c.Edit
	}
	return c.Create
}

// RequiredFields returns the command's required list intersected with its
// allowlist, preserving required-list order. Fields outside the allowlist
// can never be required.
func (c *Config) RequiredFields(key string) []string {
	cmd := c.Command(key)
	return Intersect(cmd.Required, cmd.Fields)
}

// AllowedFields intersects the table's global field list with the command's
// field list, preserving global-list order.
func (c *Config) AllowedFields(key string, globalList []string) []string {
	return Intersect(globalList, c.Command(key).Fields)
}

// FailureMessage resolves the message for a failing field+verb, preferring
// the configured override.
func (c *Config) FailureMessage(field, verb, fallback string) string {
	if byVerb, ok := c.EvalErrors[field]; ok {
		if msg, ok := byVerb[verb]; ok && msg != "" {
			return msg
		}
	}
	return fallback
}

// Validate reports the fail-fast "not configured" conditions the dispatcher
// must surface as a configuration error rather than proceeding.
func (c *Config) Validate(globalFieldList []string) error {
	if c.Table == "" {
		return &LoadError{Code: ErrCodeNotConfigured, Message: "no table configured"}
	}
	if len(globalFieldList) == 0 {
		return &LoadError{
			Code:    ErrCodeNotConfigured,
			Message: fmt.Sprintf("table %q has no editable field list", c.Table),
		}
	}
	return nil
}

// Intersect returns the members of a that also occur in b, in a's order.
func Intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	inB := make(map[string]bool, len(b))
	for _, f := range b {
		inB[f] = true
	}
	var out []string
	for _, f := range a {
		if inB[f] {
			out = append(out, f)
		}
	}
	return out
}
