// Package fingerprint derives the fixed-size identities used for exact-match
// deduplication of URLs and enriched content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"horse.fit/dedup/internal/textnorm"
	"horse.fit/dedup/internal/urlcanon"
)

// BodyPrefixRunes bounds how much of the body feeds a content fingerprint.
const BodyPrefixRunes = 500

const Size = sha256.Size

type Fingerprint [Size]byte

func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, f[:])
	return out
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

func FromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != Size {
		return f, fmt.Errorf("fingerprint must be %d bytes, got %d", Size, len(b))
	}
	copy(f[:], b)
	return f, nil
}

// URL hashes the canonical form of raw and returns the canonical string too,
// so callers can reuse it for fuzzy comparison.
func URL(c *urlcanon.Canonicalizer, raw, platform string) (Fingerprint, string) {
	canonical := c.Canonicalize(raw, platform)
	return sha256.Sum256([]byte(canonical)), canonical
}

// Content hashes normalized title, body prefix and author. A non-nil
// publishedAt appends its UTC calendar day; a nil one adds no bucket.
func Content(title, body, author string, publishedAt *time.Time) Fingerprint {
	return sha256.Sum256([]byte(ContentKey(title, body, author, publishedAt)))
}

// ContentKey is the pre-image of Content.
func ContentKey(title, body, author string, publishedAt *time.Time) string {
	var b strings.Builder
	b.WriteString(textnorm.Normalize(title))
	b.WriteByte('|')
	b.WriteString(textnorm.Truncate(textnorm.Normalize(body), BodyPrefixRunes))
	b.WriteByte('|')
	b.WriteString(textnorm.Normalize(author))
	if publishedAt != nil && !publishedAt.IsZero() {
		b.WriteByte('|')
		b.WriteString(publishedAt.UTC().Format(time.DateOnly))
	}
	return b.String()
}
