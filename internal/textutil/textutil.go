package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	turkishTitle = cases.Title(language.Turkish)
	turkishLower = cases.Lower(language.Turkish)
)

// TitleTurkish title-cases a string with Turkish casing rules (dotted and
// dotless i are distinct letters).
func TitleTurkish(value string) string {
	return turkishTitle.String(strings.TrimSpace(value))
}

// LowerTurkish lower-cases a string with Turkish casing rules.
func LowerTurkish(value string) string {
	return turkishLower.String(value)
}

// PunctuationOnlyChange reports whether two strings differ only in punctuation
// or spacing. Both sides are NFC-normalized before comparison so that composed
// and decomposed umlauts compare equal.
func PunctuationOnlyChange(before, after string) bool {
	return stripPunctuation(before) == stripPunctuation(after)
}

func stripPunctuation(value string) string {
	normalized := norm.NFC.String(value)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Slug reduces a title to a lowercase identifier-safe form used for chapter ids.
func Slug(value string) string {
	lowered := turkishLower.String(norm.NFC.String(strings.TrimSpace(value)))
	var b strings.Builder
	lastDash := true
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
