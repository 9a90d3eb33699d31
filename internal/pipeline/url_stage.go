package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"horse.fit/dedup/internal/fingerprint"
	"horse.fit/dedup/internal/globaltime"
	"horse.fit/dedup/internal/record"
	"horse.fit/dedup/internal/similarity"
)

// RunURLDedup evaluates pending candidates that have not been fingerprinted
// yet. Each one ends up either marked duplicate or fingerprinted and left
// pending for enrichment.
func (s *Service) RunURLDedup(ctx context.Context, filter ScopeFilter) (summary Summary, err error) {
	if s == nil || s.store == nil {
		return Summary{}, &Error{Kind: ErrInvalidRequest, Err: fmt.Errorf("pipeline service is not initialized")}
	}

	summary = s.startRun(ctx, StageURL)
	defer s.finishRun(ctx, &summary)

	candidates, err := s.store.ListPendingCandidates(ctx, filter, s.opts.BatchLimit)
	if err != nil {
		return summary, storeUnavailable("list pending candidates", err)
	}

	runUUID := summary.RunUUID
	groups := groupByScope(candidates, record.CandidateRecord.Scope)
	err = runGroups(ctx, s, StageURL, groups, &summary, func(ctx context.Context, scope record.Scope, items []record.CandidateRecord, out *Summary) error {
		for _, candidate := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.dedupCandidate(ctx, runUUID, candidate, out); err != nil {
				s.logger.Warn().
					Err(err).
					Int64("candidate_id", candidate.ID).
					Str("scope", scope.String()).
					Msg("url dedup failed for candidate")
				out.addError(RecordError{
					RecordID: candidate.ID,
					Scope:    scope.String(),
					Op:       "url_dedup",
					Message:  err.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return summary, storeUnavailable("url dedup", err)
	}
	return summary, nil
}

func (s *Service) dedupCandidate(ctx context.Context, runUUID string, candidate record.CandidateRecord, out *Summary) error {
	scope := candidate.Scope()
	fp, canonical := fingerprint.URL(s.canon, candidate.RawURL, candidate.Platform)
	fpBytes := fp.Bytes()

	matchID, found, err := s.store.FindCandidateByURLFingerprint(ctx, scope, fpBytes, candidate.ID)
	if err != nil {
		return fmt.Errorf("find url fingerprint: %w", err)
	}
	if found {
		if err := s.store.MarkCandidateDuplicate(ctx, candidate.ID, matchID, fpBytes, canonical); err != nil {
			return fmt.Errorf("mark exact duplicate of %d: %w", matchID, err)
		}
		out.Processed++
		out.ExactDuplicates++
		s.recordEvent(ctx, Event{
			RunUUID:   runUUID,
			Stage:     StageURL,
			Kind:      EventURLExact,
			RecordID:  candidate.ID,
			MatchedID: matchID,
			Score:     floatPtr(1),
			Details:   map[string]any{"fingerprint": fp.Hex(), "canonical_url": canonical},
		})
		return nil
	}

	match, score, checks, err := s.findFuzzyURLMatch(ctx, candidate, fpBytes, canonical)
	out.SimilarityChecks += checks
	if err != nil {
		return err
	}
	if match != 0 {
		if err := s.store.MarkCandidateDuplicate(ctx, candidate.ID, match, fpBytes, canonical); err != nil {
			return fmt.Errorf("mark fuzzy duplicate of %d: %w", match, err)
		}
		out.Processed++
		out.FuzzyDuplicates++
		s.recordEvent(ctx, Event{
			RunUUID:   runUUID,
			Stage:     StageURL,
			Kind:      EventURLFuzzy,
			RecordID:  candidate.ID,
			MatchedID: match,
			Score:     floatPtr(score),
			Details:   map[string]any{"canonical_url": canonical, "threshold": s.thresholds.URLSimilarity},
		})
		return nil
	}

	err = s.store.SetCandidateFingerprint(ctx, candidate.ID, fpBytes, canonical)
	if errors.Is(err, record.ErrFingerprintConflict) {
		// Another writer claimed the fingerprint between lookup and write.
		matchID, found, lookupErr := s.store.FindCandidateByURLFingerprint(ctx, scope, fpBytes, candidate.ID)
		if lookupErr != nil {
			return fmt.Errorf("find url fingerprint after conflict: %w", lookupErr)
		}
		if !found {
			return fmt.Errorf("fingerprint conflict without a visible owner: %w", err)
		}
		if err := s.store.MarkCandidateDuplicate(ctx, candidate.ID, matchID, fpBytes, canonical); err != nil {
			return fmt.Errorf("mark conflicting duplicate of %d: %w", matchID, err)
		}
		out.Processed++
		out.ExactDuplicates++
		out.Conflicts++
		s.recordEvent(ctx, Event{
			RunUUID:   runUUID,
			Stage:     StageURL,
			Kind:      EventConflictSignal,
			RecordID:  candidate.ID,
			MatchedID: matchID,
			Score:     floatPtr(1),
			Details:   map[string]any{"fingerprint": fp.Hex()},
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("set url fingerprint: %w", err)
	}

	out.Processed++
	return nil
}

// findFuzzyURLMatch compares canonical URLs against the recency window and
// returns the best match at or above the URL threshold. Equal scores go to
// the lowest record id.
func (s *Service) findFuzzyURLMatch(
	ctx context.Context,
	candidate record.CandidateRecord,
	fp []byte,
	canonical string,
) (int64, float64, int, error) {
	since := globaltime.UTC().Add(-s.opts.URLWindow)
	recent, err := s.store.RecentCandidates(ctx, candidate.Scope(), since, candidate.ID, s.opts.URLWindowLimit)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load url recency window: %w", err)
	}

	var (
		bestID    int64
		bestScore float64
		checks    int
	)
	for _, existing := range recent {
		if existing.ID == candidate.ID || existing.Status == record.StatusDuplicate {
			continue
		}
		other := existing.CanonicalURL
		if other == "" {
			other = s.canon.Canonicalize(existing.RawURL, existing.Platform)
		}
		if len(existing.URLFingerprint) > 0 && bytes.Equal(existing.URLFingerprint, fp) {
			// Exact twins are resolved by the fingerprint lookup.
			continue
		}
		checks++
		score := similarity.Composite(canonical, other)
		if score < s.thresholds.URLSimilarity {
			continue
		}
		if score > bestScore || (score == bestScore && existing.ID < bestID) {
			bestID, bestScore = existing.ID, score
		}
	}
	return bestID, bestScore, checks, nil
}
