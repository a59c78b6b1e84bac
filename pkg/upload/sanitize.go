package upload

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// unsafeChars are stripped from file names before they become path segments
// or object key components.
const unsafeChars = `<>:"/\|?*`

// SanitizeFileName reduces a client-supplied file name to a safe basename.
//
// Rules: take the basename, drop control and deny-listed characters, trim
// surrounding whitespace and dots. Names that reduce to "", "." or ".." are
// replaced with a generated uuid so an upload never escapes its directory.
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))

	if base == "." || base == ".." || base == string(filepath.Separator) {
		return uuid.NewString()
	}

	var b strings.Builder
	for _, r := range base {
		if r < 0x20 || strings.ContainsRune(unsafeChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), " .")
	if out == "" || out == "." || out == ".." {
		return uuid.NewString()
	}
	return out
}
