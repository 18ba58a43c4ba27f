// Package isbn finds and normalizes ISBN identifiers in free text.
//
// Extraction is a heuristic regex scan, not checksum validation. OCR output is
// noisy, and a false positive costs one metadata lookup that returns nothing.
package isbn

import (
	"regexp"
	"strings"
)

var (
	// 978/979 prefix followed by loosely delimited groups, e.g. "978-0-14-303943-3".
	isbn13Pattern = regexp.MustCompile(`(?i)(?:ISBN(?:-13)?:?\s*)?(?:978|979)[-\s]?\d{1,5}[-\s]?\d{1,7}[-\s]?\d{1,7}[-\s]?\d`)

	// Grouped form requires a delimiter before the check digit, bare form is ten characters.
	isbn10Pattern = regexp.MustCompile(`(?i)(?:ISBN(?:-10)?:?\s*)?(?:\d{1,5}[-\s]?\d{1,7}[-\s]?\d{1,7}[-\s][\dX]|\b\d{9}[\dX]\b)`)

	isbn10Shape = regexp.MustCompile(`^\d{9}[\dX]$`)
	isbn13Shape = regexp.MustCompile(`^(978|979)\d{10}$`)
)

// Extract returns the first ISBN-13 found in text, or the first ISBN-10 when no
// ISBN-13 is present. The result contains only digits and an upper-case X.
// Returns "" when nothing matches.
func Extract(text string) string {
	if text == "" {
		return ""
	}

	// The grouped pattern is greedy and can swallow a trailing number
	// ("9780441013593 412 pages"), so keep the leading 13 digits.
	for _, match := range isbn13Pattern.FindAllString(text, -1) {
		if cleaned := Normalize(match); len(cleaned) >= 13 {
			return cleaned[:13]
		}
	}

	for _, match := range isbn10Pattern.FindAllString(text, -1) {
		if cleaned := Normalize(match); len(cleaned) == 10 {
			return cleaned
		}
	}

	return ""
}

// Normalize strips everything except digits and X from s. A leading "ISBN"
// label is removed before stripping so its letters do not leak into the result.
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "ISBN-13")
	s = strings.TrimPrefix(s, "ISBN-10")
	s = strings.TrimPrefix(s, "ISBN")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether s already has the normalized shape of an ISBN-10 or
// ISBN-13. Check digits are not verified.
func Valid(s string) bool {
	return isbn10Shape.MatchString(s) || isbn13Shape.MatchString(s)
}

// Clean normalizes s and returns it when it has a valid ISBN shape, or ""
// otherwise.
func Clean(s string) string {
	if n := Normalize(s); Valid(n) {
		return n
	}
	return ""
}

// Prefer picks the identifier a catalog record should carry: the 13-digit form
// when present, otherwise the 10-digit form. Inputs are normalized first and
// values with the wrong shape are ignored.
func Prefer(isbn13, isbn10 string) string {
	if n := Clean(isbn13); isbn13Shape.MatchString(n) {
		return n
	}
	if n := Normalize(isbn10); isbn10Shape.MatchString(n) {
		return n
	}
	return ""
}
