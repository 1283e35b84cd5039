// Package directive parses the transform/validate instruction strings of the
// engine configuration into their executable form.
//
// A directive list is a comma-separated sequence of verbs, each optionally
// followed by bracketed parameter groups:
//
//	trim, lower, random[8]
//	files[jpg;png;gif][250]
//	uniqueHashInt[name;email]
//
// Lists are parsed once at configuration-load time; the pipelines execute
// the parsed form and never re-read the source strings.
package directive

import (
	"strconv"
	"strings"
)

// Transform verbs.
const (
	Int              = "int"
	Lower            = "lower"
	Upper            = "upper"
	NoSpace          = "nospace"
	Alpha            = "alpha"
	Num              = "num"
	Alnum            = "alphanum"
	AlnumX           = "alphanum_x"
	Trim             = "trim"
	Random           = "random"
	Files            = "files"
	SetEmptyIfAbsent = "setEmptyIfAbsent"
	Multiple         = "multiple"
	CheckArray       = "checkArray"
	UniqueHashInt    = "uniqueHashInt"
)

// Validation verbs.
const (
	UniqueGlobal = "uniqueGlobal"
	UniqueLocal  = "uniqueLocal"
	Twice        = "twice"
	Email        = "email"
	Required     = "required"
	AtLeast      = "atLeast"
	AtMost       = "atMost"
	InBranch     = "inBranch"
	UnsetEmpty   = "unsetEmpty"
)

// Directive is one parsed instruction: a verb plus its bracketed parameter
// groups in declaration order.
type Directive struct {
	Verb   string
	Params []string
}

// Param returns the i-th bracket group, or "" when absent.
func (d Directive) Param(i int) string {
	if i < 0 || i >= len(d.Params) {
		return ""
	}
	return d.Params[i]
}

// ParamInt returns the i-th bracket group parsed as an integer, 0 on
// absence or parse failure.
func (d Directive) ParamInt(i int) int {
	n, err := strconv.Atoi(strings.TrimSpace(d.Param(i)))
	if err != nil {
		return 0
	}
	return n
}

// ParamList splits the i-th bracket group on semicolons, dropping empty
// entries. Used for extension lists and sibling-field lists.
func (d Directive) ParamList(i int) []string {
	var out []string
	for _, p := range strings.Split(d.Param(i), ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseList parses a comma-separated directive list. Empty entries are
// skipped. Directives execute strictly in declaration order, so the result
// preserves source order.
func ParseList(s string) []Directive {
	var out []Directive
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, parseOne(part))
	}
	return out
}

// Map holds the parsed directive lists per field name.
type Map map[string][]Directive

// ParseMap parses a field-name -> directive-list mapping.
func ParseMap(src map[string]string) Map {
	if len(src) == 0 {
		return nil
	}
	out := make(Map, len(src))
	for field, list := range src {
		out[field] = ParseList(list)
	}
	return out
}

// parseOne parses a single "verb[p0][p1]..." entry. Text outside brackets
// before the first group is the verb; each balanced [..] is one parameter
// group. An unterminated group runs to the end of the string.
func parseOne(s string) Directive {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return Directive{Verb: strings.TrimSpace(s)}
	}
	d := Directive{Verb: strings.TrimSpace(s[:open])}
	rest := s[open:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			d.Params = append(d.Params, rest[1:])
			break
		}
		d.Params = append(d.Params, rest[1:end])
		rest = rest[end+1:]
	}
	return d
}
