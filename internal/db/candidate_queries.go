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

const (
	candidateTable = "dedup.candidate_records"
	enrichedTable  = "dedup.enriched_records"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var candidateColumns = []string{
	"id",
	"source_entity_id",
	"channel_id",
	"platform",
	"raw_url",
	"canonical_url",
	"url_fingerprint",
	"title",
	"snippet",
	"author",
	"published_at",
	"discovered_at",
	"status",
	"duplicate_of",
}

var _ pipeline.Store = (*Pool)(nil)

func withScopeFilter(b sq.SelectBuilder, filter pipeline.ScopeFilter) sq.SelectBuilder {
	if filter.SourceEntityID != nil {
		b = b.Where(sq.Eq{"source_entity_id": *filter.SourceEntityID})
	}
	if filter.ChannelID != nil {
		b = b.Where(sq.Eq{"channel_id": *filter.ChannelID})
	}
	return b
}

func pendingCandidatesQuery(filter pipeline.ScopeFilter, limit int) (string, []any, error) {
	b := psql.Select(candidateColumns...).
		From(candidateTable).
		Where("status = 'pending'").
		Where("url_fingerprint IS NULL")
	return withScopeFilter(b, filter).
		OrderBy("source_entity_id", "channel_id", "discovered_at", "id").
		Limit(uint64(limit)).
		ToSql()
}

func scanCandidate(rows *Rows) (record.CandidateRecord, error) {
	var (
		c                            record.CandidateRecord
		canonical, title, snip, auth *string
		status                       string
	)
	if err := rows.Scan(
		&c.ID,
		&c.SourceEntityID,
		&c.ChannelID,
		&c.Platform,
		&c.RawURL,
		&canonical,
		&c.URLFingerprint,
		&title,
		&snip,
		&auth,
		&c.PublishedAt,
		&c.DiscoveredAt,
		&status,
		&c.DuplicateOf,
	); err != nil {
		return record.CandidateRecord{}, err
	}
	c.CanonicalURL = deref(canonical)
	c.Title = deref(title)
	c.Snippet = deref(snip)
	c.Author = deref(auth)
	c.Status = record.Status(status)
	return c, nil
}

func (p *Pool) queryCandidates(ctx context.Context, label, query string, args ...any) ([]record.CandidateRecord, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", label, err)
	}
	defer rows.Close()

	out := make([]record.CandidateRecord, 0, 64)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", label, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", label, err)
	}
	return out, nil
}

// ListPendingCandidates returns pending candidates without a URL fingerprint,
// ordered by scope and discovery time.
func (p *Pool) ListPendingCandidates(ctx context.Context, filter pipeline.ScopeFilter, limit int) ([]record.CandidateRecord, error) {
	query, args, err := pendingCandidatesQuery(filter, limit)
	if err != nil {
		return nil, fmt.Errorf("build pending candidates query: %w", err)
	}
	return p.queryCandidates(ctx, "pending candidates", query, args...)
}

func (p *Pool) FindCandidateByURLFingerprint(ctx context.Context, scope record.Scope, fingerprint []byte, excludeID int64) (int64, bool, error) {
	const q = `
SELECT id
FROM dedup.candidate_records
WHERE source_entity_id = $1
  AND channel_id = $2
  AND url_fingerprint = $3
  AND id <> $4
  AND status <> 'duplicate'
ORDER BY discovered_at ASC, id ASC
LIMIT 1
`
	var id int64
	if err := p.QueryRow(ctx, q, scope.SourceEntityID, scope.ChannelID, fingerprint, excludeID).Scan(&id); err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query candidate by url fingerprint: %w", err)
	}
	return id, true, nil
}

// RecentCandidates returns fingerprinted, non-duplicate candidates of the
// scope discovered since the given time, newest first.
func (p *Pool) RecentCandidates(ctx context.Context, scope record.Scope, since time.Time, excludeID int64, limit int) ([]record.CandidateRecord, error) {
	query, args, err := psql.Select(candidateColumns...).
		From(candidateTable).
		Where(sq.Eq{"source_entity_id": scope.SourceEntityID, "channel_id": scope.ChannelID}).
		Where(sq.NotEq{"id": excludeID}).
		Where("status <> 'duplicate'").
		Where("url_fingerprint IS NOT NULL").
		Where(sq.GtOrEq{"discovered_at": since.UTC()}).
		OrderBy("discovered_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent candidates query: %w", err)
	}
	return p.queryCandidates(ctx, "recent candidates", query, args...)
}

func (p *Pool) SetCandidateFingerprint(ctx context.Context, id int64, fingerprint []byte, canonicalURL string) error {
	const q = `
UPDATE dedup.candidate_records
SET
	url_fingerprint = $2,
	canonical_url = $3,
	updated_at = $4
WHERE id = $1
`
	n, err := p.Exec(ctx, q, id, fingerprint, canonicalURL, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("set candidate %d fingerprint: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("candidate %d not found", id)
	}
	return nil
}

func (p *Pool) MarkCandidateDuplicate(ctx context.Context, id, duplicateOf int64, fingerprint []byte, canonicalURL string) error {
	const q = `
UPDATE dedup.candidate_records
SET
	status = 'duplicate',
	duplicate_of = $2,
	url_fingerprint = $3,
	canonical_url = $4,
	updated_at = $5
WHERE id = $1
`
	n, err := p.Exec(ctx, q, id, duplicateOf, fingerprint, canonicalURL, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("mark candidate %d duplicate: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("candidate %d not found", id)
	}
	return nil
}

func deleteBatchQuery(table, statusClause, timeColumn string, before time.Time, limit int) (string, []any, error) {
	sub, subArgs, err := sq.Select("id").
		From(table).
		Where(statusClause).
		Where(sq.Lt{timeColumn: before.UTC()}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return "", nil, err
	}
	return psql.Delete(table).Where("id IN ("+sub+")", subArgs...).ToSql()
}

// DeleteDuplicateCandidates removes at most limit duplicate candidates
// discovered before the cutoff.
func (p *Pool) DeleteDuplicateCandidates(ctx context.Context, before time.Time, limit int) (int64, error) {
	query, args, err := deleteBatchQuery(candidateTable, "status = 'duplicate'", "discovered_at", before, limit)
	if err != nil {
		return 0, fmt.Errorf("build candidate sweep query: %w", err)
	}
	n, err := p.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate candidates: %w", err)
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
