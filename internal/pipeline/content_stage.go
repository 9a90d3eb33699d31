package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"horse.fit/dedup/internal/fingerprint"
	"horse.fit/dedup/internal/globaltime"
	"horse.fit/dedup/internal/record"
	"horse.fit/dedup/internal/similarity"
	"horse.fit/dedup/internal/textnorm"
)

type exactOutcome int

const (
	exactMiss exactOutcome = iota
	exactWinner
	exactLoser
)

// RunContentDedup looks for duplicate enriched records captured inside the
// content window. Exact content fingerprints are resolved first; only the
// records that miss go through the pairwise similarity pass.
func (s *Service) RunContentDedup(ctx context.Context, filter ScopeFilter) (summary Summary, err error) {
	if s == nil || s.store == nil {
		return Summary{}, &Error{Kind: ErrInvalidRequest, Err: fmt.Errorf("pipeline service is not initialized")}
	}

	summary = s.startRun(ctx, StageContent)
	defer s.finishRun(ctx, &summary)

	since := globaltime.UTC().Add(-s.opts.ContentWindow)
	records, err := s.store.ListRecentEnriched(ctx, filter, since, s.opts.BatchLimit)
	if err != nil {
		return summary, storeUnavailable("list recent enriched records", err)
	}

	runUUID := summary.RunUUID
	groups := groupByScope(records, record.EnrichedRecord.Scope)
	err = runGroups(ctx, s, StageContent, groups, &summary, func(ctx context.Context, scope record.Scope, items []record.EnrichedRecord, out *Summary) error {
		return s.dedupContentGroup(ctx, runUUID, scope, items, out)
	})
	if err != nil {
		return summary, storeUnavailable("content dedup", err)
	}
	return summary, nil
}

func (s *Service) dedupContentGroup(
	ctx context.Context,
	runUUID string,
	scope record.Scope,
	items []record.EnrichedRecord,
	out *Summary,
) error {
	ordered := make([]record.EnrichedRecord, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CapturedAt.Equal(ordered[j].CapturedAt) {
			return ordered[i].CapturedAt.Before(ordered[j].CapturedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	superseded := make(map[int64]struct{})
	misses := make([]record.EnrichedRecord, 0, len(ordered))
	for _, rec := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, gone := superseded[rec.ID]; gone {
			continue
		}

		outcome, loserID, err := s.exactContentCheck(ctx, runUUID, rec, out)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int64("enriched_id", rec.ID).
				Str("scope", scope.String()).
				Msg("content fingerprint check failed")
			out.addError(RecordError{RecordID: rec.ID, Scope: scope.String(), Op: "content_exact", Message: err.Error()})
			continue
		}
		out.Processed++
		switch outcome {
		case exactMiss:
			misses = append(misses, rec)
		case exactWinner:
			superseded[loserID] = struct{}{}
		case exactLoser:
			superseded[rec.ID] = struct{}{}
		}
	}

	remaining := misses[:0]
	for _, rec := range misses {
		if _, gone := superseded[rec.ID]; !gone {
			remaining = append(remaining, rec)
		}
	}

	for _, bucket := range bucketize(remaining, s.opts.MaxGroupSize) {
		if err := s.pairwiseContent(ctx, runUUID, scope, bucket, superseded, out); err != nil {
			return err
		}
	}
	return nil
}

// exactContentCheck resolves rec against the latest record holding the same
// content fingerprint. On a match the tie-break decides which side flips.
func (s *Service) exactContentCheck(
	ctx context.Context,
	runUUID string,
	rec record.EnrichedRecord,
	out *Summary,
) (exactOutcome, int64, error) {
	fp := fingerprint.Content(rec.Title, rec.Body, rec.Author, rec.PublishedAt)
	fpBytes := fp.Bytes()

	match, found, err := s.store.FindLatestByContentFingerprint(ctx, rec.Scope(), fpBytes, rec.ID)
	if err != nil {
		return exactMiss, 0, fmt.Errorf("find content fingerprint: %w", err)
	}
	if found {
		return s.resolveExactContent(ctx, runUUID, rec, match, fpBytes, EventContentExact, out)
	}
	if bytes.Equal(rec.ContentFingerprint, fpBytes) {
		return exactMiss, 0, nil
	}

	err = s.store.SetContentFingerprint(ctx, rec.ID, fpBytes)
	if errors.Is(err, record.ErrFingerprintConflict) {
		match, found, lookupErr := s.store.FindLatestByContentFingerprint(ctx, rec.Scope(), fpBytes, rec.ID)
		if lookupErr != nil {
			return exactMiss, 0, fmt.Errorf("find content fingerprint after conflict: %w", lookupErr)
		}
		if !found {
			return exactMiss, 0, fmt.Errorf("content fingerprint conflict without a visible owner: %w", err)
		}
		out.Conflicts++
		return s.resolveExactContent(ctx, runUUID, rec, match, fpBytes, EventConflictSignal, out)
	}
	if err != nil {
		return exactMiss, 0, fmt.Errorf("set content fingerprint: %w", err)
	}
	return exactMiss, 0, nil
}

func (s *Service) resolveExactContent(
	ctx context.Context,
	runUUID string,
	rec record.EnrichedRecord,
	match record.EnrichedRecord,
	fp []byte,
	kind EventKind,
	out *Summary,
) (exactOutcome, int64, error) {
	canonical, loser := match, rec
	outcome := exactLoser
	if rec.Precedes(match) {
		canonical, loser = rec, match
		outcome = exactWinner
	}

	if err := s.store.MarkEnrichedSuperseded(ctx, loser.ID, canonical.ID, fp); err != nil {
		return exactMiss, 0, fmt.Errorf("supersede %d by %d: %w", loser.ID, canonical.ID, err)
	}
	if outcome == exactWinner {
		if err := s.store.SetContentFingerprint(ctx, rec.ID, fp); err != nil {
			return exactMiss, 0, fmt.Errorf("claim content fingerprint after supersede: %w", err)
		}
	}

	out.ExactDuplicates++
	s.recordEvent(ctx, Event{
		RunUUID:   runUUID,
		Stage:     StageContent,
		Kind:      kind,
		RecordID:  loser.ID,
		MatchedID: canonical.ID,
		Score:     floatPtr(1),
		Details:   map[string]any{"fingerprint": fmt.Sprintf("%x", fp)},
	})
	return outcome, loser.ID, nil
}

// pairwiseContent compares every unordered pair in bucket. The bucket is put
// in a total order first so the outcome does not depend on capture order;
// each matched pair is then settled by Precedes.
func (s *Service) pairwiseContent(
	ctx context.Context,
	runUUID string,
	scope record.Scope,
	bucket []record.EnrichedRecord,
	superseded map[int64]struct{},
	out *Summary,
) error {
	sort.Slice(bucket, func(i, j int) bool {
		return pairingLess(bucket[i], bucket[j])
	})

	for i := range bucket {
		if err := ctx.Err(); err != nil {
			return err
		}
		current := bucket[i]
		if _, gone := superseded[current.ID]; gone {
			continue
		}
		for j := i + 1; j < len(bucket); j++ {
			other := bucket[j]
			if _, gone := superseded[other.ID]; gone {
				continue
			}

			verdict := s.compareContent(current, other, out)
			if !verdict.duplicate {
				continue
			}
			canonical, loser := current, other
			if other.Precedes(current) {
				canonical, loser = other, current
			}
			if !s.supersedeNearDuplicate(ctx, runUUID, scope, loser, canonical, verdict, out) {
				continue
			}
			superseded[loser.ID] = struct{}{}
			if loser.ID == current.ID {
				break
			}
		}
	}
	return nil
}

// pairingLess is a total order over a bucket: dated records by publish time,
// then undated ones, with origin id and record id breaking ties.
func pairingLess(a, b record.EnrichedRecord) bool {
	aDated, bDated := a.PublishedAt != nil, b.PublishedAt != nil
	if aDated != bDated {
		return aDated
	}
	if aDated && !a.PublishedAt.Equal(*b.PublishedAt) {
		return a.PublishedAt.Before(*b.PublishedAt)
	}
	if a.OriginCandidateID != b.OriginCandidateID {
		return a.OriginCandidateID < b.OriginCandidateID
	}
	return a.ID < b.ID
}

func (s *Service) supersedeNearDuplicate(
	ctx context.Context,
	runUUID string,
	scope record.Scope,
	loser record.EnrichedRecord,
	canonical record.EnrichedRecord,
	verdict contentVerdict,
	out *Summary,
) bool {
	if err := s.store.MarkEnrichedSuperseded(ctx, loser.ID, canonical.ID, nil); err != nil {
		s.logger.Warn().
			Err(err).
			Int64("enriched_id", loser.ID).
			Int64("canonical_id", canonical.ID).
			Msg("supersede near-duplicate failed")
		out.addError(RecordError{RecordID: loser.ID, Scope: scope.String(), Op: "content_supersede", Message: err.Error()})
		return false
	}
	out.FuzzyDuplicates++
	s.recordEvent(ctx, Event{
		RunUUID:   runUUID,
		Stage:     StageContent,
		Kind:      EventContentFuzzy,
		RecordID:  loser.ID,
		MatchedID: canonical.ID,
		Score:     floatPtr(verdict.content),
		Details: map[string]any{
			"title_similarity":   verdict.title,
			"content_similarity": verdict.content,
			"same_author":        verdict.meta.SameAuthor,
			"date_proximity":     verdict.meta.DateProximity,
			"metadata_score":     verdict.meta.Score,
			"metadata_strong":    verdict.meta.Score >= s.thresholds.MetadataSimilarity,
		},
	})
	return true
}

type contentVerdict struct {
	duplicate bool
	title     float64
	content   float64
	meta      similarity.MetadataResult
}

// compareContent applies the cheap metadata gate first, then the title and
// content thresholds.
func (s *Service) compareContent(a, b record.EnrichedRecord, out *Summary) contentVerdict {
	var v contentVerdict
	v.meta = similarity.Metadata(
		similarity.Meta{Author: a.Author, PublishedAt: a.PublishedAt},
		similarity.Meta{Author: b.Author, PublishedAt: b.PublishedAt},
		s.thresholds.DateProximity,
	)
	if !v.meta.Passes() {
		return v
	}

	out.SimilarityChecks++
	v.title = similarity.Composite(a.Title, b.Title)
	if v.title < s.thresholds.TitleSimilarity {
		return v
	}

	out.SimilarityChecks++
	v.content = similarity.Composite(bodyPrefix(a.Body), bodyPrefix(b.Body))
	v.duplicate = v.content >= s.thresholds.ContentSimilarity
	return v
}

func bodyPrefix(body string) string {
	return textnorm.Truncate(textnorm.Normalize(body), fingerprint.BodyPrefixRunes)
}

// bucketize splits records into pairing buckets of at most maxSize. Oversized
// input is first split by publish day (capture day when unpublished).
func bucketize(records []record.EnrichedRecord, maxSize int) [][]record.EnrichedRecord {
	if len(records) == 0 {
		return nil
	}
	if len(records) <= maxSize {
		return [][]record.EnrichedRecord{records}
	}

	byDay := make(map[string][]record.EnrichedRecord)
	var days []string
	for _, rec := range records {
		day := rec.CapturedAt.UTC().Format("2006-01-02")
		if rec.PublishedAt != nil {
			day = rec.PublishedAt.UTC().Format("2006-01-02")
		}
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], rec)
	}
	sort.Strings(days)

	var buckets [][]record.EnrichedRecord
	for _, day := range days {
		dayRecords := byDay[day]
		for start := 0; start < len(dayRecords); start += maxSize {
			end := min(start+maxSize, len(dayRecords))
			buckets = append(buckets, dayRecords[start:end])
		}
	}
	return buckets
}
