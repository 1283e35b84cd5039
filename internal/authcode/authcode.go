// Package authcode implements the stateless capability-token scheme.
//
// A token proves the right to act on a specific record without a login: it
// is a truncated hex digest over selected record fields, a caller-supplied
// shared secret fragment, an optional date component, and the process
// encryption key. Tokens are never stored; verification is recomputation
// against the live record. A token therefore stays valid exactly as long as
// the covered fields and secrets are unchanged (and, when date-bound, while
// the formatted date string is unchanged).
package authcode

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/record"
)

// SecretProvider supplies the process-wide encryption key folded into every
// digest.
type SecretProvider interface {
	EncryptionKey() string
}

// StaticSecret is a SecretProvider around a fixed key.
type StaticSecret string

// EncryptionKey returns the fixed key.
func (s StaticSecret) EncryptionKey() string { return string(s) }

// Clock supplies the current time for date-bound tokens. Injected so tests
// and replays can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Service computes and verifies capability tokens for one configuration.
type Service struct {
	cfg     config.AuthCodeConfig
	secrets SecretProvider
	clock   Clock
}

// New creates a token service. A nil clock defaults to SystemClock.
func New(cfg config.AuthCodeConfig, secrets SecretProvider, clock Clock) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{cfg: cfg, secrets: secrets, clock: clock}
}

// Issue computes the default token for a record: each configured field value
// joined with "|", then extra, the shared secret fragment, the optional
// formatted date, and the encryption key. Returns "" when no token fields
// are configured; an empty token never verifies.
func (s *Service) Issue(r record.Record, extra string) string {
	if len(s.cfg.Fields) == 0 {
		return ""
	}

	var b strings.Builder
	for _, field := range s.cfg.Fields {
		b.WriteString(r.Str(field))
		b.WriteString("|")
	}
	b.WriteString(extra)
	b.WriteString("|")
	b.WriteString(s.cfg.AddKey)
	if s.cfg.AddDate != "" {
		// The layout is caller-supplied and unvalidated. A layout with no
		// reference-time components formats to itself, which degrades to a
		// constant component: no rotation.
		b.WriteString("|")
		b.WriteString(s.clock.Now().Format(s.cfg.AddDate))
	}
	b.WriteString(s.secrets.EncryptionKey())

	return truncate(b.String(), s.cfg.CodeLength)
}

// Verify recomputes the default token against the live record and compares
// it to the presented one in constant time.
func (s *Service) Verify(r record.Record, presented string) bool {
	if presented == "" {
		return false
	}
	want := s.Issue(r, "")
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(presented)) == 1
}

// IssueForFixedUpdate computes the one-click-action token over an explicit
// field subset instead of the configured default list. With an empty subset
// the whole record is covered, fields in sorted column order. Callers pass
// the record with the action's announced values already overlaid, so the
// token pins the state the link promises to produce rather than the state
// stored at issue time.
//
// The digest layout differs from Issue: selected values pipe-joined, then
// the shared secret fragment, then the encryption key. No date component.
func (s *Service) IssueForFixedUpdate(r record.Record, fields []string) string {
	if len(fields) == 0 {
		fields = r.SortedKeys()
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, r.Str(field))
	}
	enc := strings.Join(parts, "|") + "|" + s.cfg.AddKey + "|" + s.secrets.EncryptionKey()
	return truncate(enc, s.cfg.CodeLength)
}

// VerifyFixed recomputes the fixed-update token and compares in constant
// time. The record passed here carries the same value overlay the issuer
// hashed, so a genuine link keeps verifying after its action has been
// applied; only a change to an uncovered stored field or a doctored overlay
// value breaks the match.
func (s *Service) VerifyFixed(r record.Record, fields []string, presented string) bool {
	if presented == "" {
		return false
	}
	want := s.IssueForFixedUpdate(r, fields)
	return subtle.ConstantTimeCompare([]byte(want), []byte(presented)) == 1
}

// truncate hashes the digest input and truncates the hex form to n
// characters (clamped to the hash width, default when n <= 0).
func truncate(input string, n int) string {
	if n <= 0 {
		n = config.DefaultCodeLength
	}
	sum := md5.Sum([]byte(input))
	hexSum := hex.EncodeToString(sum[:])
	if n > len(hexSum) {
		n = len(hexSum)
	}
	return hexSum[:n]
}
