package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"horse.fit/dedup/internal/globaltime"
	"horse.fit/dedup/internal/pipeline"
	"horse.fit/dedup/internal/record"
)

var enrichedColumns = []string{
	"id",
	"origin_candidate_id",
	"source_entity_id",
	"channel_id",
	"title",
	"body",
	"author",
	"published_at",
	"content_fingerprint",
	"is_latest",
	"snapshot_number",
	"captured_at",
	"duplicate_of",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnriched(row rowScanner) (record.EnrichedRecord, error) {
	var (
		e      record.EnrichedRecord
		author *string
	)
	if err := row.Scan(
		&e.ID,
		&e.OriginCandidateID,
		&e.SourceEntityID,
		&e.ChannelID,
		&e.Title,
		&e.Body,
		&author,
		&e.PublishedAt,
		&e.ContentFingerprint,
		&e.IsLatest,
		&e.SnapshotNumber,
		&e.CapturedAt,
		&e.DuplicateOf,
	); err != nil {
		return record.EnrichedRecord{}, err
	}
	e.Author = deref(author)
	return e, nil
}

func recentEnrichedQuery(filter pipeline.ScopeFilter, since time.Time, limit int) (string, []any, error) {
	b := psql.Select(enrichedColumns...).
		From(enrichedTable).
		Where("is_latest").
		Where(sq.GtOrEq{"captured_at": since.UTC()})
	return withScopeFilter(b, filter).
		OrderBy("source_entity_id", "channel_id", "captured_at", "id").
		Limit(uint64(limit)).
		ToSql()
}

// ListRecentEnriched returns latest snapshots captured since the cutoff.
func (p *Pool) ListRecentEnriched(ctx context.Context, filter pipeline.ScopeFilter, since time.Time, limit int) ([]record.EnrichedRecord, error) {
	query, args, err := recentEnrichedQuery(filter, since, limit)
	if err != nil {
		return nil, fmt.Errorf("build recent enriched query: %w", err)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent enriched records: %w", err)
	}
	defer rows.Close()

	out := make([]record.EnrichedRecord, 0, 64)
	for rows.Next() {
		e, err := scanEnriched(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enriched record row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enriched record rows: %w", err)
	}
	return out, nil
}

func (p *Pool) FindLatestByContentFingerprint(ctx context.Context, scope record.Scope, fingerprint []byte, excludeID int64) (record.EnrichedRecord, bool, error) {
	query, args, err := psql.Select(enrichedColumns...).
		From(enrichedTable).
		Where(sq.Eq{"source_entity_id": scope.SourceEntityID, "channel_id": scope.ChannelID}).
		Where("content_fingerprint = ?", fingerprint).
		Where(sq.NotEq{"id": excludeID}).
		Where("is_latest").
		Limit(1).
		ToSql()
	if err != nil {
		return record.EnrichedRecord{}, false, fmt.Errorf("build content fingerprint query: %w", err)
	}

	e, err := scanEnriched(p.QueryRow(ctx, query, args...))
	if err != nil {
		if IsNoRows(err) {
			return record.EnrichedRecord{}, false, nil
		}
		return record.EnrichedRecord{}, false, fmt.Errorf("query enriched by content fingerprint: %w", err)
	}
	return e, true, nil
}

func (p *Pool) SetContentFingerprint(ctx context.Context, id int64, fingerprint []byte) error {
	const q = `
UPDATE dedup.enriched_records
SET
	content_fingerprint = $2,
	updated_at = $3
WHERE id = $1
`
	n, err := p.Exec(ctx, q, id, fingerprint, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("set enriched record %d fingerprint: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("enriched record %d not found", id)
	}
	return nil
}

// MarkEnrichedSuperseded flips is_latest off and points the record at its
// canonical. A nil fingerprint keeps the stored one.
func (p *Pool) MarkEnrichedSuperseded(ctx context.Context, id, duplicateOf int64, fingerprint []byte) error {
	const q = `
UPDATE dedup.enriched_records
SET
	is_latest = FALSE,
	duplicate_of = $2,
	content_fingerprint = COALESCE($3, content_fingerprint),
	updated_at = $4
WHERE id = $1
`
	n, err := p.Exec(ctx, q, id, duplicateOf, fingerprint, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("supersede enriched record %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("enriched record %d not found", id)
	}
	return nil
}

// DeleteSupersededEnriched removes at most limit non-latest snapshots
// captured before the cutoff.
func (p *Pool) DeleteSupersededEnriched(ctx context.Context, before time.Time, limit int) (int64, error) {
	query, args, err := deleteBatchQuery(enrichedTable, "NOT is_latest", "captured_at", before, limit)
	if err != nil {
		return 0, fmt.Errorf("build enriched sweep query: %w", err)
	}
	n, err := p.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete superseded enriched records: %w", err)
	}
	return n, nil
}
