// Package sanitize turns untrusted folder and file names into
// filesystem-safe tokens.
package sanitize

import (
	"errors"
	"strings"
	"unicode"
)

// MaxNameLength is the maximum length of a sanitized name, in characters.
const MaxNameLength = 100

// Separator replaces forbidden characters and whitespace runs.
const Separator = '_'

// ErrEmptyName is returned when nothing usable survives sanitization.
var ErrEmptyName = errors.New("name is empty after sanitization")

// forbidden characters become a separator rather than vanishing, so
// "a/b" reads as "a_b" and not "ab".
const forbidden = `\/:"*?[].<>|{}`

// Name sanitizes a folder name or a file base name.
//
// Forbidden characters and whitespace turn into a single separator, any
// other rune that is not a letter, digit, '_' or '-' is dropped, separator
// runs collapse and are trimmed from both ends, and the result is cut to the
// first MaxNameLength characters. The result may be empty; callers must
// reject that. Name is idempotent.
func Name(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingSep := false
	for _, r := range raw {
		switch {
		case strings.ContainsRune(forbidden, r), unicode.IsSpace(r), r == Separator:
			pendingSep = true
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			if pendingSep && b.Len() > 0 {
				b.WriteRune(Separator)
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}

	return truncate(b.String(), MaxNameLength)
}

// truncate keeps the first max runes and drops a trailing separator the cut
// may have exposed.
func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			s = s[:i]
			break
		}
		n++
	}
	return strings.TrimRight(s, string(Separator))
}

// Extension returns the lower-cased suffix after the last '.', or "".
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// SplitExt splits name at its last '.' into base and raw extension.
func SplitExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// Filename sanitizes an uploaded file name. Base and extension are cleaned
// separately and re-joined with a single '.', so "my report.v2.PDF" becomes
// "my_report_v2.PDF".
func Filename(raw string) (string, error) {
	base, ext := SplitExt(raw)
	cleanBase := Name(base)
	if cleanBase == "" {
		return "", ErrEmptyName
	}
	return WithExtension(cleanBase, ext), nil
}

// WithExtension joins a sanitized base with a sanitized extension. An
// extension that sanitizes to nothing is left off.
func WithExtension(base, ext string) string {
	cleanExt := Name(ext)
	if cleanExt == "" {
		return base
	}
	// Keep the whole name within bounds, trimming the base and not the extension.
	limit := MaxNameLength - len([]rune(cleanExt)) - 1
	if limit < 1 {
		return base
	}
	return truncate(base, limit) + "." + cleanExt
}
