package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/dedup/internal/pipeline"
)

func (p *Pool) StartRun(ctx context.Context, runUUID string, stage pipeline.Stage, startedAt time.Time) error {
	const q = `
INSERT INTO dedup.dedup_runs (run_uuid, stage, started_at)
VALUES ($1::uuid, $2, $3)
ON CONFLICT (run_uuid) DO NOTHING
`
	if _, err := p.Exec(ctx, q, runUUID, string(stage), startedAt.UTC()); err != nil {
		return fmt.Errorf("insert dedup run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and the bounded per-record error list.
func (p *Pool) FinishRun(ctx context.Context, runUUID string, summary pipeline.Summary) error {
	errorsJSON, err := json.Marshal(summary.Errors)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	const q = `
UPDATE dedup.dedup_runs
SET
	finished_at = $2,
	groups = $3,
	skipped_groups = $4,
	processed = $5,
	exact_duplicates = $6,
	fuzzy_duplicates = $7,
	conflicts = $8,
	deleted = $9,
	failed = $10,
	errors = $11::jsonb
WHERE run_uuid = $1::uuid
`
	_, err = p.Exec(ctx, q,
		runUUID,
		summary.FinishedAt.UTC(),
		summary.Groups,
		summary.SkippedGroups,
		summary.Processed,
		summary.ExactDuplicates,
		summary.FuzzyDuplicates,
		summary.Conflicts,
		summary.Deleted.Candidates+summary.Deleted.Enriched,
		summary.Failed,
		string(errorsJSON),
	)
	if err != nil {
		return fmt.Errorf("update dedup run: %w", err)
	}
	return nil
}

func (p *Pool) RecordEvent(ctx context.Context, event pipeline.Event) error {
	var details any
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
		details = string(encoded)
	}

	const q = `
INSERT INTO dedup.dedup_events (run_uuid, stage, kind, record_id, matched_id, score, details, created_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, $8)
`
	_, err := p.Exec(ctx, q,
		event.RunUUID,
		string(event.Stage),
		string(event.Kind),
		event.RecordID,
		event.MatchedID,
		event.Score,
		details,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dedup event: %w", err)
	}
	return nil
}
