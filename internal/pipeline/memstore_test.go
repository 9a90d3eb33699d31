package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"horse.fit/dedup/internal/record"
)

// memStore mirrors the SQL store's partial unique indexes so conflict
// handling can be exercised without a database.
type memStore struct {
	mu         sync.Mutex
	candidates map[int64]*record.CandidateRecord
	enriched   map[int64]*record.EnrichedRecord
	runs       map[string]Summary
	started    map[string]Stage
	events     []Event

	listErr           error
	findErrFor        map[int64]error
	deleteErr         error
	beforeSetCandidate func(s *memStore, id int64, fingerprint []byte)
}

func newMemStore() *memStore {
	return &memStore{
		candidates: make(map[int64]*record.CandidateRecord),
		enriched:   make(map[int64]*record.EnrichedRecord),
		runs:       make(map[string]Summary),
		started:    make(map[string]Stage),
		findErrFor: make(map[int64]error),
	}
}

func (s *memStore) addCandidate(c record.CandidateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = record.StatusPending
	}
	copyRec := c
	s.candidates[c.ID] = &copyRec
}

func (s *memStore) addEnriched(e record.EnrichedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyRec := e
	s.enriched[e.ID] = &copyRec
}

func (s *memStore) candidate(id int64) record.CandidateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.candidates[id]
}

func (s *memStore) enrichedRecord(id int64) record.EnrichedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.enriched[id]
}

func (s *memStore) eventsOfKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilter(filter ScopeFilter, scope record.Scope) bool {
	if filter.SourceEntityID != nil && *filter.SourceEntityID != scope.SourceEntityID {
		return false
	}
	if filter.ChannelID != nil && *filter.ChannelID != scope.ChannelID {
		return false
	}
	return true
}

func (s *memStore) ListPendingCandidates(_ context.Context, filter ScopeFilter, limit int) ([]record.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []record.CandidateRecord
	for _, c := range s.candidates {
		if c.Status != record.StatusPending || c.URLFingerprint != nil || !matchesFilter(filter, c.Scope()) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceEntityID != b.SourceEntityID {
			return a.SourceEntityID < b.SourceEntityID
		}
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindCandidateByURLFingerprint(_ context.Context, scope record.Scope, fp []byte, excludeID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.findErrFor[excludeID]; err != nil {
		return 0, false, err
	}
	var best *record.CandidateRecord
	for _, c := range s.candidates {
		if c.ID == excludeID || c.Status == record.StatusDuplicate || c.Scope() != scope || !bytes.Equal(c.URLFingerprint, fp) {
			continue
		}
		if best == nil || c.DiscoveredAt.Before(best.DiscoveredAt) || (c.DiscoveredAt.Equal(best.DiscoveredAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return 0, false, nil
	}
	return best.ID, true, nil
}

func (s *memStore) RecentCandidates(_ context.Context, scope record.Scope, since time.Time, excludeID int64, limit int) ([]record.CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.CandidateRecord
	for _, c := range s.candidates {
		if c.ID == excludeID || c.Status == record.StatusDuplicate || c.URLFingerprint == nil || c.Scope() != scope || c.DiscoveredAt.Before(since) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SetCandidateFingerprint(_ context.Context, id int64, fp []byte, canonical string) error {
	if s.beforeSetCandidate != nil {
		s.beforeSetCandidate(s, id, fp)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return errors.New("candidate not found")
	}
	for _, other := range s.candidates {
		if other.ID != id && other.Status != record.StatusDuplicate && other.Scope() == c.Scope() && bytes.Equal(other.URLFingerprint, fp) {
			return record.ErrFingerprintConflict
		}
	}
	c.URLFingerprint = append([]byte(nil), fp...)
	c.CanonicalURL = canonical
	return nil
}

func (s *memStore) MarkCandidateDuplicate(_ context.Context, id, duplicateOf int64, fp []byte, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok {
		return errors.New("candidate not found")
	}
	c.Status = record.StatusDuplicate
	c.DuplicateOf = &duplicateOf
	c.URLFingerprint = append([]byte(nil), fp...)
	c.CanonicalURL = canonical
	return nil
}

func (s *memStore) ListRecentEnriched(_ context.Context, filter ScopeFilter, since time.Time, limit int) ([]record.EnrichedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []record.EnrichedRecord
	for _, e := range s.enriched {
		if !e.IsLatest || e.CapturedAt.Before(since) || !matchesFilter(filter, e.Scope()) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Scope() != b.Scope() {
			if a.SourceEntityID != b.SourceEntityID {
				return a.SourceEntityID < b.SourceEntityID
			}
			return a.ChannelID < b.ChannelID
		}
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
		return a.ID < b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindLatestByContentFingerprint(_ context.Context, scope record.Scope, fp []byte, excludeID int64) (record.EnrichedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.findErrFor[excludeID]; err != nil {
		return record.EnrichedRecord{}, false, err
	}
	for _, e := range s.enriched {
		if e.ID != excludeID && e.IsLatest && e.Scope() == scope && bytes.Equal(e.ContentFingerprint, fp) {
			return *e, true, nil
		}
	}
	return record.EnrichedRecord{}, false, nil
}

func (s *memStore) SetContentFingerprint(_ context.Context, id int64, fp []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enriched[id]
	if !ok {
		return errors.New("enriched record not found")
	}
	if e.IsLatest {
		for _, other := range s.enriched {
			if other.ID != id && other.IsLatest && other.Scope() == e.Scope() && bytes.Equal(other.ContentFingerprint, fp) {
				return record.ErrFingerprintConflict
			}
		}
	}
	e.ContentFingerprint = append([]byte(nil), fp...)
	return nil
}

func (s *memStore) MarkEnrichedSuperseded(_ context.Context, id, duplicateOf int64, fp []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enriched[id]
	if !ok {
		return errors.New("enriched record not found")
	}
	e.IsLatest = false
	e.DuplicateOf = &duplicateOf
	if fp != nil {
		e.ContentFingerprint = append([]byte(nil), fp...)
	}
	return nil
}

func (s *memStore) DeleteDuplicateCandidates(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var n int64
	for id, c := range s.candidates {
		if n >= int64(limit) {
			break
		}
		if c.Status == record.StatusDuplicate && c.DiscoveredAt.Before(before) {
			delete(s.candidates, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteSupersededEnriched(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.enriched {
		if n >= int64(limit) {
			break
		}
		if !e.IsLatest && e.CapturedAt.Before(before) {
			delete(s.enriched, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) StartRun(_ context.Context, runUUID string, stage Stage, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[runUUID] = stage
	return nil
}

func (s *memStore) FinishRun(_ context.Context, runUUID string, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runUUID] = summary
	return nil
}

func (s *memStore) RecordEvent(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}
