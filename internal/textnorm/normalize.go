// Package textnorm folds free text into the comparable form shared by
// content fingerprints and similarity scoring.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	tamilBlockStart = '\u0B80'
	tamilBlockEnd   = '\u0BFF'
)

// Normalize composes text to NFC, lowercases it, replaces punctuation and symbols with spaces,
// collapses whitespace and trims. Word characters of any script and the
// whole Tamil block survive, including its combining vowel signs.
func Normalize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	pendingSpace := false
	for _, r := range strings.ToLower(norm.NFC.String(input)) {
		if !keepRune(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Words returns the whitespace separated tokens of Normalize(input).
func Words(input string) []string {
	normalized := Normalize(input)
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, " ")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func keepRune(r rune) bool {
	switch {
	case r >= tamilBlockStart && r <= tamilBlockEnd:
		return true
	case r == '_':
		return true
	case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsMark(r):
		return true
	default:
		return false
	}
}
