package record

import (
	"sort"
	"strconv"
)

// Fields is the mutable set of submitted field values for one invocation.
//
// Values are one of:
//   - string (the common case)
//   - []string (multi-select inputs, folded by the "multiple" transform)
//   - map[string]bool (checkbox sets, folded by the "checkArray" transform)
//   - int64 (after "int", "checkArray" or "uniqueHashInt" transforms)
//   - []Upload (file payloads, consumed by the "files" transform)
//
// Fields is the single source of truth for what gets persisted. Transforms
// and validators mutate it in place; it is created fresh per invocation and
// discarded afterwards.
type Fields map[string]any

// Upload is a submitted file payload: the client-supplied name plus the
// path of the already-received temporary file.
type Upload struct {
	Name    string
	TmpPath string

	// Staged marks a payload whose TmpPath is a staging copy from an
	// earlier preview pass rather than a caller-owned temp file. Staged
	// payloads are unlinked once the pass that reads them is done with
	// them; caller-owned temp files are the caller's to clean up.
	Staged bool
}

// Str returns the field value coerced to a string.
// Missing fields and unconvertible values yield "".
func (f Fields) Str(name string) string {
	if f == nil {
		return ""
	}
	return Stringify(f[name])
}

// Int returns the field value coerced to an int64 (0 when absent or
// non-numeric). String values are parsed with a leading-integer rule, so
// "12abc" reads as 12 the way lenient form input does.
func (f Fields) Int(name string) int64 {
	if f == nil {
		return 0
	}
	return Intify(f[name])
}

// Has reports whether the field is present (even if empty).
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// SortedKeys returns the field names in lexical order for deterministic
// iteration.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy. Slice and map values are copied one level
// deep so transforms on the copy do not leak into the source.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		switch vv := v.(type) {
		case []string:
			cp := make([]string, len(vv))
			copy(cp, vv)
			out[k] = cp
		case map[string]bool:
			cp := make(map[string]bool, len(vv))
			for mk, mv := range vv {
				cp[mk] = mv
			}
			out[k] = cp
		case []Upload:
			cp := make([]Upload, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Record is a persisted row as returned by the store: column name to value.
// The engine treats records as read-only snapshots.
type Record map[string]any

// UID returns the numeric id column, 0 when absent.
func (r Record) UID() int64 {
	return Intify(r["uid"])
}

// Pid returns the container/location id column, 0 when absent.
func (r Record) Pid() int64 {
	return Intify(r["pid"])
}

// Str returns the column value coerced to a string.
func (r Record) Str(name string) string {
	if r == nil {
		return ""
	}
	return Stringify(r[name])
}

// SortedKeys returns the column names in lexical order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns the submitted fields overlaid on the stored record.
// Used when redisplaying an edit form with partially submitted data.
func Merge(submitted Fields, stored Record) Record {
	out := make(Record, len(stored)+len(submitted))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range submitted {
		out[k] = v
	}
	return out
}

// Overlay returns a copy of the record with the value maps applied on top,
// in order. The record itself is not modified.
func Overlay(r Record, patches ...map[string]string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, patch := range patches {
		for k, v := range patch {
			out[k] = v
		}
	}
	return out
}

// Stringify coerces a value to its string form. Byte slices from the sql
// driver, integers and bools are all rendered the way the store persists
// them; unsupported composites yield "".
func Stringify(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case []byte:
		return string(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case int:
		return strconv.Itoa(vv)
	case bool:
		if vv {
			return "1"
		}
		return "0"
	case float64:
		// sqlite may hand back floats for numeric affinity columns.
		return strconv.FormatInt(int64(vv), 10)
	default:
		return ""
	}
}

// Intify coerces a value to int64. Strings are parsed as a leading decimal
// integer ("12abc" -> 12), mirroring loose form-input coercion.
func Intify(v any) int64 {
	switch vv := v.(type) {
	case int64:
		return vv
	case int:
		return int64(vv)
	case float64:
		return int64(vv)
	case bool:
		if vv {
			return 1
		}
		return 0
	case []byte:
		return leadingInt(string(vv))
	case string:
		return leadingInt(vv)
	default:
		return 0
	}
}

func leadingInt(s string) int64 {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
