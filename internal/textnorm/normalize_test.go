package textnorm

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: " \t\n ", want: ""},
		{name: "punctuation only", input: "?!...", want: ""},
		{name: "ascii lowercase and punctuation", input: "  Hello,   WORLD!! ", want: "hello world"},
		{name: "underscore kept", input: "snake_case-name", want: "snake_case name"},
		{name: "digits kept", input: "Top-10 list (2024)", want: "top 10 list 2024"},
		{name: "tamil punctuation removed", input: "அதிமுக கூட்டம்!", want: "அதிமுக கூட்டம்"},
		{name: "mixed script", input: "ADMK: அதிமுக/2024", want: "admk அதிமுக 2024"},
		{name: "newlines collapse", input: "line one\n\nline two", want: "line one line two"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tc.input); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizePreservesTamilCodePoints(t *testing.T) {
	t.Parallel()

	input := "அதிமுக கூட்டம்!"
	got := Normalize(input)

	var wantTamil, gotTamil []rune
	for _, r := range input {
		if r >= tamilBlockStart && r <= tamilBlockEnd {
			wantTamil = append(wantTamil, r)
		}
	}
	for _, r := range got {
		if r >= tamilBlockStart && r <= tamilBlockEnd {
			gotTamil = append(gotTamil, r)
		}
	}
	if string(gotTamil) != string(wantTamil) {
		t.Fatalf("tamil code points changed: got %q want %q", string(gotTamil), string(wantTamil))
	}
	if strings.Contains(got, "!") {
		t.Fatalf("expected punctuation removed, got %q", got)
	}
}

func TestNormalizeComposesCanonicalEquivalents(t *testing.T) {
	t.Parallel()

	// கொட்டம் with the vowel sign precomposed and split into its two parts.
	composed := "\u0B95\u0BCA\u0B9F\u0BCD\u0B9F\u0BAE\u0BCD"
	decomposed := "\u0B95\u0BC6\u0BBE\u0B9F\u0BCD\u0B9F\u0BAE\u0BCD"
	if composed == decomposed {
		t.Fatalf("test inputs must differ byte-wise")
	}

	got := Normalize(decomposed)
	if got != Normalize(composed) {
		t.Fatalf("Normalize(decomposed) = %q, want %q", got, Normalize(composed))
	}
	if got != composed {
		t.Fatalf("expected NFC output %q, got %q", composed, got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"Hello, World", "அதிமுக கூட்டம்!", "a -- b __ c"} {
		once := Normalize(input)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", input, once, twice)
		}
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	got := Words("AIADMK announces, candidate list!")
	want := []string{"aiadmk", "announces", "candidate", "list"}
	if len(got) != len(want) {
		t.Fatalf("Words length = %d, want %d (%q)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Words[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Words("  !! ") != nil {
		t.Fatalf("expected nil words for punctuation-only input")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("அதிமுக", 3); got != "அதி" {
		t.Fatalf("Truncate tamil = %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("Truncate short = %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Fatalf("Truncate zero = %q", got)
	}
}
