// Package pipeline applies the configured transform directives to submitted
// field values.
//
// Directives for one field run strictly in declared order; later directives
// see the output of earlier ones. All transforms are pure functions of the
// current value except "files", which stages uploaded payloads and replaces
// the value with a delimited reference list. Unrecognized verbs are no-ops,
// keeping old configurations forward-compatible.
package pipeline

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/fegate/internal/config"
	"github.com/roach88/fegate/internal/directive"
	"github.com/roach88/fegate/internal/record"
	"github.com/roach88/fegate/internal/upload"
)

// checkArrayMaxKey bounds the bit positions folded by checkArray.
const checkArrayMaxKey = 30

var (
	lowerCaser = cases.Lower(language.Und)
	upperCaser = cases.Upper(language.Und)
)

// Options carries the invocation context the transforms depend on.
type Options struct {
	// CommandKey is the active command profile ("create" or "edit"). File
	// attachment is a create-only capability; any other profile clears file
	// fields unconditionally.
	CommandKey string

	// DoNotSave mirrors the cancellation flag: uploads are not staged for a
	// cancelled submission.
	DoNotSave bool

	// Preview routes accepted uploads into the staging area instead of the
	// final upload folder.
	Preview bool

	// Table is the target record table, used to prefix staged file names.
	Table string

	// Uploads stores file payloads. Nil disables file handling (fields are
	// cleared).
	Uploads *upload.Store

	// UploadFolder resolves a file field to its upload folder, typically
	// backed by the schema registry.
	UploadFolder func(field string) string

	// RandomHex overrides the random[n] source. Nil uses crypto/rand.
	RandomHex func(n int) string
}

// Apply runs every configured field's directive chain against the submitted
// fields, mutating them in place. It returns the staging files this pass
// consumed, which the invocation must unlink on exit; files staged FOR a
// preview are not in the list, they survive until the real save reads them
// back.
func Apply(fields record.Fields, dirs directive.Map, opts Options) []string {
	if fields == nil || len(dirs) == 0 {
		return nil
	}

	var temp []string
	// Deterministic field order keeps staged names and debug output stable.
	names := make([]string, 0, len(dirs))
	for name := range dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, d := range dirs[name] {
			temp = append(temp, applyOne(fields, name, d, opts)...)
		}
	}
	return temp
}

// applyOne executes a single directive, returning any consumed staging
// files.
func applyOne(fields record.Fields, field string, d directive.Directive, opts Options) []string {
	switch d.Verb {
	case directive.Int:
		fields[field] = record.Intify(fields[field])

	case directive.Lower:
		fields[field] = lowerCaser.String(fields.Str(field))

	case directive.Upper:
		fields[field] = upperCaser.String(fields.Str(field))

	case directive.NoSpace:
		fields[field] = strings.ReplaceAll(fields.Str(field), " ", "")

	case directive.Alpha:
		fields[field] = keepRunes(fields.Str(field), isAlpha)

	case directive.Num:
		fields[field] = keepRunes(fields.Str(field), isDigit)

	case directive.Alnum:
		fields[field] = keepRunes(fields.Str(field), isAlnum)

	case directive.AlnumX:
		fields[field] = keepRunes(fields.Str(field), func(r rune) bool {
			return isAlnum(r) || r == '_' || r == '-'
		})

	case directive.Trim:
		fields[field] = strings.TrimSpace(fields.Str(field))

	case directive.Random:
		fields[field] = randomHex(opts, d.ParamInt(0))

	case directive.Files:
		return applyFiles(fields, field, d, opts)

	case directive.SetEmptyIfAbsent:
		if !fields.Has(field) {
			fields[field] = ""
		}

	case directive.Multiple:
		if vals, ok := fields[field].([]string); ok {
			fields[field] = strings.Join(vals, ",")
		}

	case directive.CheckArray:
		fields[field] = packCheckboxes(fields[field])

	case directive.UniqueHashInt:
		fields[field] = uniqueHashInt(fields, d.ParamList(0))
	}
	return nil
}

// applyFiles handles the files[exts][maxKB] directive. Outside a non-
// cancelled create the field is unset: file attachment is create-only.
func applyFiles(fields record.Fields, field string, d directive.Directive, opts Options) []string {
	if opts.CommandKey != config.KeyCreate || opts.DoNotSave || opts.Uploads == nil {
		delete(fields, field)
		return nil
	}

	var uploads []record.Upload
	switch v := fields[field].(type) {
	case []record.Upload:
		uploads = v
	case string:
		// A preview round-trip hands the staged references back as the
		// field value.
		uploads = opts.Uploads.ParsePreviewRefs(v)
	}

	folder := ""
	if opts.UploadFolder != nil {
		folder = opts.UploadFolder(field)
	}
	res := opts.Uploads.Process(opts.Table, field, uploads, d.ParamList(0), d.ParamInt(1), opts.Preview, folder)
	fields[field] = strings.Join(res.Refs, ",")
	return res.Temp
}

// packCheckboxes folds a checkbox-set map into a bitmask: bit k is set for
// every truthy key k in [0, 30]. Keys outside the range are ignored; a
// non-map value packs to 0.
func packCheckboxes(v any) int64 {
	checks, ok := v.(map[string]bool)
	if !ok {
		return 0
	}
	var mask int64
	for key, on := range checks {
		if !on {
			continue
		}
		k, err := strconv.Atoi(key)
		if err != nil || k < 0 || k > checkArrayMaxKey {
			continue
		}
		mask |= 1 << k
	}
	return mask
}

// uniqueHashInt builds a de-duplication key from sibling fields: each value
// is stripped of whitespace and non-alphanumerics and lowercased, the
// results are joined in declared order and hashed to a fixed-width integer
// (first 8 hex digest chars).
func uniqueHashInt(fields record.Fields, siblings []string) int64 {
	parts := make([]string, 0, len(siblings))
	for _, name := range siblings {
		v := fields.Str(name)
		v = keepRunes(v, func(r rune) bool { return !unicode.IsSpace(r) })
		v = keepRunes(v, isAlnum)
		parts = append(parts, strings.ToLower(v))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	n, err := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	if err != nil {
		return 0
	}
	return n
}

func randomHex(opts Options, n int) string {
	if n <= 0 {
		return ""
	}
	if opts.RandomHex != nil {
		return opts.RandomHex(n)
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)[:n]
}

func keepRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAlpha(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isAlnum(r rune) bool { return isAlpha(r) || isDigit(r) }
