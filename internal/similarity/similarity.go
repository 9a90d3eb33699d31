// Package similarity scores how alike two pieces of text are. All metrics
// operate on textnorm.Normalize output and return values in [0, 1].
package similarity

import (
	"strings"
	"time"

	"horse.fit/dedup/internal/textnorm"
)

const (
	SequenceWeight = 0.4
	WordWeight     = 0.4
	NgramWeight    = 0.2

	NgramSize = 3
)

// Composite blends sequence ratio, word Jaccard and trigram Jaccard. It is
// symmetric and returns 0 when either side normalizes to empty.
func Composite(a, b string) float64 {
	return Breakdown(a, b).Score
}

type Scores struct {
	Sequence float64 `json:"sequence"`
	Word     float64 `json:"word"`
	Ngram    float64 `json:"ngram"`
	Score    float64 `json:"score"`
}

// Breakdown returns the sub-metrics behind Composite.
func Breakdown(a, b string) Scores {
	na := textnorm.Normalize(a)
	nb := textnorm.Normalize(b)
	if na == "" || nb == "" {
		return Scores{}
	}

	s := Scores{
		Sequence: sequenceRatio(na, nb),
		Word:     jaccard(wordSet(na), wordSet(nb)),
		Ngram:    jaccard(ngramSet(na, NgramSize), ngramSet(nb, NgramSize)),
	}
	s.Score = clamp(SequenceWeight*s.Sequence + WordWeight*s.Word + NgramWeight*s.Ngram)
	return s
}

// SequenceRatio is the Ratcliff/Obershelp ratio 2*M/T of the normalized
// inputs, where M counts runes in recursively found longest common blocks.
func SequenceRatio(a, b string) float64 {
	na := textnorm.Normalize(a)
	nb := textnorm.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return sequenceRatio(na, nb)
}

func WordJaccard(a, b string) float64 {
	na := textnorm.Normalize(a)
	nb := textnorm.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return jaccard(wordSet(na), wordSet(nb))
}

// NgramJaccard compares sliding rune windows of size n. Inputs shorter than
// n score 0.
func NgramJaccard(a, b string, n int) float64 {
	na := textnorm.Normalize(a)
	nb := textnorm.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	return jaccard(ngramSet(na, n), ngramSet(nb, n))
}

func sequenceRatio(a, b string) float64 {
	// Order the pair so the block search is independent of argument order.
	if a > b {
		a, b = b, a
	}
	ra := []rune(a)
	rb := []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return clamp(2 * float64(matchingRunes(ra, rb)) / float64(total))
}

type span struct {
	alo, ahi, blo, bhi int
}

func matchingRunes(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	matched := 0
	stack := []span{{0, len(a), 0, len(b)}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		i, j, k := longestMatch(a, b2j, s)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			stack = append(stack, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			stack = append(stack, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the earliest longest block a[i:i+k] == b[j:j+k] inside s.
func longestMatch(a []rune, b2j map[rune][]int, s span) (int, int, int) {
	besti, bestj, bestk := s.alo, s.blo, 0
	j2len := map[int]int{}
	for i := s.alo; i < s.ahi; i++ {
		next := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < s.blo {
				continue
			}
			if j >= s.bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return besti, bestj, bestk
}

func wordSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func ngramSet(normalized string, n int) map[string]struct{} {
	if n <= 0 {
		return nil
	}
	runes := []rune(normalized)
	if len(runes) < n {
		return nil
	}
	set := make(map[string]struct{}, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}
	return set
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}
	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Meta carries the fields the metadata gate inspects.
type Meta struct {
	Author      string
	PublishedAt *time.Time
}

type MetadataResult struct {
	SameAuthor    bool    `json:"same_author"`
	DateProximity bool    `json:"date_proximity"`
	Score         float64 `json:"score"`
}

// Passes is the content-stage gate: either signal is enough.
func (m MetadataResult) Passes() bool {
	return m.SameAuthor || m.DateProximity
}

// Metadata compares authors case-insensitively and publish dates within
// window. Two blank authors count as the same author; a missing date is
// never proximate.
func Metadata(a, b Meta, window time.Duration) MetadataResult {
	var res MetadataResult

	res.SameAuthor = strings.EqualFold(strings.TrimSpace(a.Author), strings.TrimSpace(b.Author))

	if a.PublishedAt != nil && b.PublishedAt != nil && window >= 0 {
		diff := a.PublishedAt.Sub(*b.PublishedAt)
		if diff < 0 {
			diff = -diff
		}
		res.DateProximity = diff <= window
	}

	if res.SameAuthor {
		res.Score += 0.5
	}
	if res.DateProximity {
		res.Score += 0.5
	}
	return res
}
