package db

import (
	"encoding/json"
	"time"
)

// CandidateRecord maps dedup.candidate_records.
type CandidateRecord struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	SourceEntityID int64      `gorm:"column:source_entity_id;type:bigint;not null"`
	ChannelID      int64      `gorm:"column:channel_id;type:bigint;not null"`
	Platform       string     `gorm:"column:platform;type:text;not null;default:''"`
	RawURL         string     `gorm:"column:raw_url;type:text;not null"`
	CanonicalURL   *string    `gorm:"column:canonical_url;type:text"`
	URLFingerprint []byte     `gorm:"column:url_fingerprint;type:bytea"`
	Title          *string    `gorm:"column:title;type:text"`
	Snippet        *string    `gorm:"column:snippet;type:text"`
	Author         *string    `gorm:"column:author;type:text"`
	PublishedAt    *time.Time `gorm:"column:published_at;type:timestamptz"`
	DiscoveredAt   time.Time  `gorm:"column:discovered_at;type:timestamptz;not null;default:now()"`
	Status         string     `gorm:"column:status;type:dedup.candidate_status;not null;default:pending"`
	DuplicateOf    *int64     `gorm:"column:duplicate_of;type:bigint"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CandidateRecord) TableName() string { return "dedup.candidate_records" }

// EnrichedRecord maps dedup.enriched_records. One row per captured snapshot;
// only the latest snapshot of a story takes part in uniqueness.
type EnrichedRecord struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement"`
	OriginCandidateID  int64      `gorm:"column:origin_candidate_id;type:bigint;not null"`
	SourceEntityID     int64      `gorm:"column:source_entity_id;type:bigint;not null"`
	ChannelID          int64      `gorm:"column:channel_id;type:bigint;not null"`
	Title              string     `gorm:"column:title;type:text;not null;default:''"`
	Body               string     `gorm:"column:body;type:text;not null;default:''"`
	Author             *string    `gorm:"column:author;type:text"`
	PublishedAt        *time.Time `gorm:"column:published_at;type:timestamptz"`
	ContentFingerprint []byte     `gorm:"column:content_fingerprint;type:bytea"`
	IsLatest           bool       `gorm:"column:is_latest;type:boolean;not null;default:true"`
	SnapshotNumber     int        `gorm:"column:snapshot_number;type:integer;not null;default:1"`
	CapturedAt         time.Time  `gorm:"column:captured_at;type:timestamptz;not null;default:now()"`
	DuplicateOf        *int64     `gorm:"column:duplicate_of;type:bigint"`
	CreatedAt          time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (EnrichedRecord) TableName() string { return "dedup.enriched_records" }

// DedupRun maps dedup.dedup_runs.
type DedupRun struct {
	RunID           int64           `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID         string          `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Stage           string          `gorm:"column:stage;type:text;not null"`
	StartedAt       time.Time       `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt      *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	Groups          int             `gorm:"column:groups;type:integer;not null;default:0"`
	SkippedGroups   int             `gorm:"column:skipped_groups;type:integer;not null;default:0"`
	Processed       int             `gorm:"column:processed;type:integer;not null;default:0"`
	ExactDuplicates int             `gorm:"column:exact_duplicates;type:integer;not null;default:0"`
	FuzzyDuplicates int             `gorm:"column:fuzzy_duplicates;type:integer;not null;default:0"`
	Conflicts       int             `gorm:"column:conflicts;type:integer;not null;default:0"`
	Deleted         int64           `gorm:"column:deleted;type:bigint;not null;default:0"`
	Failed          int             `gorm:"column:failed;type:integer;not null;default:0"`
	Errors          json.RawMessage `gorm:"column:errors;type:jsonb"`
}

func (DedupRun) TableName() string { return "dedup.dedup_runs" }

// DedupEvent maps dedup.dedup_events.
type DedupEvent struct {
	EventID   int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	RunUUID   string          `gorm:"column:run_uuid;type:uuid;not null"`
	Stage     string          `gorm:"column:stage;type:text;not null"`
	Kind      string          `gorm:"column:kind;type:text;not null"`
	RecordID  int64           `gorm:"column:record_id;type:bigint;not null"`
	MatchedID int64           `gorm:"column:matched_id;type:bigint;not null"`
	Score     *float64        `gorm:"column:score;type:double precision"`
	Details   json.RawMessage `gorm:"column:details;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DedupEvent) TableName() string { return "dedup.dedup_events" }

func autoMigrateModels() []any {
	return []any{
		&CandidateRecord{},
		&EnrichedRecord{},
		&DedupRun{},
		&DedupEvent{},
	}
}
