// Package upload stages submitted file payloads and moves accepted ones
// into a table's upload folder.
//
// File handling is a create-only capability: the pipeline routes payloads
// here only for the create command. Rejections (bad extension, oversized,
// illegal filename) never abort a submission; the offending file is skipped,
// logged at debug level, and the field simply ends up without it.
package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/fegate/internal/record"
)

// denyPattern rejects filenames that must never land in an upload folder,
// regardless of the configured extension list.
var denyPattern = regexp.MustCompile(`(?i)\.(php[0-9]?|phpsh|phtml|pht)(\.|$)|^\.ht`)

// unsafeChars is replaced with "_" when cleaning a client filename.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Store moves uploads between the staging area and the per-table upload
// folders.
type Store struct {
	// TempDir holds the staging copies made for previewed submissions.
	// A staging copy outlives the preview invocation: the follow-up real
	// save reads it back via ParsePreviewRefs and only then is it
	// unlinked.
	TempDir string

	// BaseDir is the root the per-field upload folders live under.
	BaseDir string

	Log *slog.Logger
}

// New creates a Store. A nil logger defaults to slog.Default().
func New(tempDir, baseDir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{TempDir: tempDir, BaseDir: baseDir, Log: log}
}

// Result is the outcome of processing one field's uploads.
type Result struct {
	// Refs are the stored references to persist in the field, in input
	// order. Final refs are bare filenames; preview refs are
	// "tmpname|clientname" pairs.
	Refs []string

	// Stored lists absolute paths written outside the staging area, for the
	// caller's bookkeeping.
	Stored []string

	// Temp lists staging files this pass consumed or superseded; the
	// invocation unlinks them on exit. Freshly staged preview copies are
	// never listed here: they must survive until the follow-up save reads
	// them back.
	Temp []string
}

// Process verifies and stores a field's uploads.
//
// Each payload is checked against the deny pattern, the allowed extension
// list (empty list = any extension) and the size bound (maxKB <= 0 = no
// bound). Accepted files go to the staging area when preview is set,
// otherwise into BaseDir/folder under a collision-free cleaned name. An
// empty folder with preview off stores nothing (no destination configured).
func (s *Store) Process(table, field string, uploads []record.Upload, exts []string, maxKB int, preview bool, folder string) Result {
	var res Result
	for _, u := range uploads {
		name := filepath.Base(u.Name)
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

		if denyPattern.MatchString(strings.ToLower(name)) {
			s.Log.Debug("upload rejected: filename matched deny pattern", "field", field, "name", name)
			continue
		}
		if len(exts) > 0 && !containsFold(exts, ext) {
			s.Log.Debug("upload rejected: extension not allowed", "field", field, "name", name, "ext", ext)
			continue
		}
		info, err := os.Stat(u.TmpPath)
		if err != nil {
			s.Log.Debug("upload rejected: payload missing", "field", field, "tmp", u.TmpPath)
			continue
		}
		if maxKB > 0 && info.Size() >= int64(maxKB)*1024 {
			s.Log.Debug("upload rejected: too large", "field", field, "name", name, "bytes", info.Size(), "max_kb", maxKB)
			continue
		}

		if preview {
			staged := fmt.Sprintf("%s_%s.%s", table, uuid.NewString()[:8], ext)
			dest := filepath.Join(s.TempDir, staged)
			if err := copyFile(u.TmpPath, dest); err != nil {
				s.Log.Debug("upload staging failed", "field", field, "name", name, "err", err)
				continue
			}
			if u.Staged {
				// A re-preview supersedes the earlier staging copy.
				res.Temp = append(res.Temp, u.TmpPath)
			}
			res.Refs = append(res.Refs, staged+"|"+name)
			continue
		}

		if folder == "" {
			s.Log.Debug("upload dropped: no upload folder for field", "field", field)
			continue
		}
		dest, err := s.uniqueDest(folder, cleanName(name))
		if err != nil {
			s.Log.Debug("upload store failed", "field", field, "name", name, "err", err)
			continue
		}
		if err := copyFile(u.TmpPath, dest); err != nil {
			s.Log.Debug("upload store failed", "field", field, "name", name, "err", err)
			continue
		}
		if u.Staged {
			res.Temp = append(res.Temp, u.TmpPath)
		}
		res.Stored = append(res.Stored, dest)
		res.Refs = append(res.Refs, filepath.Base(dest))
	}
	return res
}

// ParsePreviewRefs turns a persisted preview reference list back into
// payloads rooted in the staging area. Used when a previewed submission
// comes back for the real save.
func (s *Store) ParsePreviewRefs(val string) []record.Upload {
	var out []record.Upload
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		staged, client, ok := strings.Cut(entry, "|")
		if !ok || staged == "" {
			continue
		}
		if client == "" {
			client = staged
		}
		out = append(out, record.Upload{
			Name:    client,
			TmpPath: filepath.Join(s.TempDir, filepath.Base(staged)),
			Staged:  true,
		})
	}
	return out
}

// Remove deletes stored files named in a comma-separated field value from
// BaseDir/folder. Missing files are ignored; a record delete must not fail
// on an already-gone attachment.
func (s *Store) Remove(folder, fieldValue string) {
	if folder == "" {
		return
	}
	for _, name := range strings.Split(fieldValue, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		path := filepath.Join(s.BaseDir, folder, filepath.Base(name))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.Log.Debug("attached file removal failed", "path", path, "err", err)
		}
	}
}

// Exists reports whether a stored file is present in BaseDir/folder.
func (s *Store) Exists(folder, name string) bool {
	_, err := os.Stat(filepath.Join(s.BaseDir, folder, filepath.Base(name)))
	return err == nil
}

// CleanupTemp unlinks consumed staging files. Called on every exit path of
// an invocation, success or not.
func CleanupTemp(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// uniqueDest returns a destination path in BaseDir/folder that does not
// collide with an existing file, suffixing the stem when needed.
func (s *Store) uniqueDest(folder, name string) (string, error) {
	dir := filepath.Join(s.BaseDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		cand := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand, nil
		}
	}
}

func cleanName(name string) string {
	cleaned := unsafeChars.ReplaceAllString(name, "_")
	if cleaned == "" || strings.HasPrefix(cleaned, ".") {
		cleaned = "file" + cleaned
	}
	return cleaned
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
