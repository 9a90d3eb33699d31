package record

import (
	"errors"
	"fmt"
	"time"
)

// ErrFingerprintConflict is returned by store writes that hit the scoped
// fingerprint uniqueness constraint. Callers treat it as a duplicate signal.
var ErrFingerprintConflict = errors.New("fingerprint already claimed in scope")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusScraped    Status = "scraped"
	StatusFailed     Status = "failed"
	StatusDuplicate  Status = "duplicate"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusScraped, StatusFailed, StatusDuplicate:
		return true
	default:
		return false
	}
}

// Scope bounds every uniqueness and similarity decision.
type Scope struct {
	SourceEntityID int64 `json:"source_entity_id"`
	ChannelID      int64 `json:"channel_id"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%d/%d", s.SourceEntityID, s.ChannelID)
}

type CandidateRecord struct {
	ID             int64
	SourceEntityID int64
	ChannelID      int64
	Platform       string
	RawURL         string
	CanonicalURL   string
	URLFingerprint []byte
	Title          string
	Snippet        string
	Author         string
	PublishedAt    *time.Time
	DiscoveredAt   time.Time
	Status         Status
	DuplicateOf    *int64
}

func (r CandidateRecord) Scope() Scope {
	return Scope{SourceEntityID: r.SourceEntityID, ChannelID: r.ChannelID}
}

type EnrichedRecord struct {
	ID                 int64
	OriginCandidateID  int64
	SourceEntityID     int64
	ChannelID          int64
	Title              string
	Body               string
	Author             string
	PublishedAt        *time.Time
	ContentFingerprint []byte
	IsLatest           bool
	SnapshotNumber     int
	CapturedAt         time.Time
	DuplicateOf        *int64
}

func (r EnrichedRecord) Scope() Scope {
	return Scope{SourceEntityID: r.SourceEntityID, ChannelID: r.ChannelID}
}

// Precedes reports whether r is canonical over other: the earlier
// published_at wins, and a missing or equal date falls back to the lower
// origin candidate id, then the lower record id.
func (r EnrichedRecord) Precedes(other EnrichedRecord) bool {
	if r.PublishedAt != nil && other.PublishedAt != nil && !r.PublishedAt.Equal(*other.PublishedAt) {
		return r.PublishedAt.Before(*other.PublishedAt)
	}
	if r.OriginCandidateID != other.OriginCandidateID {
		return r.OriginCandidateID < other.OriginCandidateID
	}
	return r.ID < other.ID
}
