package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PlatformDuplicateRate is the URL-stage duplicate rate of one platform.
type PlatformDuplicateRate struct {
	Platform   string  `json:"platform"`
	Candidates int64   `json:"candidates"`
	Duplicates int64   `json:"duplicates"`
	Rate       float64 `json:"rate"`
}

// SourceContentDuplicates counts superseded snapshots per source entity.
type SourceContentDuplicates struct {
	SourceEntityID int64 `json:"source_entity_id"`
	Snapshots      int64 `json:"snapshots"`
	Superseded     int64 `json:"superseded"`
}

// DuplicateStats is the read model behind the stats command and endpoint.
type DuplicateStats struct {
	Since     time.Time                 `json:"since"`
	Platforms []PlatformDuplicateRate   `json:"platforms"`
	Sources   []SourceContentDuplicates `json:"sources"`
}

func platformRateQuery(since time.Time) (string, []any, error) {
	return psql.Select(
		"platform",
		"COUNT(*)::BIGINT",
		"(COUNT(*) FILTER (WHERE status = 'duplicate'))::BIGINT",
	).
		From(candidateTable).
		Where(sq.GtOrEq{"discovered_at": since.UTC()}).
		GroupBy("platform").
		OrderBy("platform").
		ToSql()
}

func sourceDuplicatesQuery(since time.Time) (string, []any, error) {
	return psql.Select(
		"source_entity_id",
		"COUNT(*)::BIGINT",
		"(COUNT(*) FILTER (WHERE NOT is_latest AND duplicate_of IS NOT NULL))::BIGINT",
	).
		From(enrichedTable).
		Where(sq.GtOrEq{"captured_at": since.UTC()}).
		GroupBy("source_entity_id").
		OrderBy("source_entity_id").
		ToSql()
}

// QueryDuplicateStats reports duplicate rates for records seen since the
// given time.
func (p *Pool) QueryDuplicateStats(ctx context.Context, since time.Time) (*DuplicateStats, error) {
	stats := &DuplicateStats{
		Since:     since.UTC(),
		Platforms: make([]PlatformDuplicateRate, 0, 8),
		Sources:   make([]SourceContentDuplicates, 0, 16),
	}

	query, args, err := platformRateQuery(since)
	if err != nil {
		return nil, fmt.Errorf("build platform stats query: %w", err)
	}
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query platform stats: %w", err)
	}
	for rows.Next() {
		var row PlatformDuplicateRate
		if err := rows.Scan(&row.Platform, &row.Candidates, &row.Duplicates); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan platform stats row: %w", err)
		}
		if row.Candidates > 0 {
			row.Rate = float64(row.Duplicates) / float64(row.Candidates)
		}
		stats.Platforms = append(stats.Platforms, row)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate platform stats rows: %w", err)
	}

	query, args, err = sourceDuplicatesQuery(since)
	if err != nil {
		return nil, fmt.Errorf("build source stats query: %w", err)
	}
	rows, err = p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row SourceContentDuplicates
		if err := rows.Scan(&row.SourceEntityID, &row.Snapshots, &row.Superseded); err != nil {
			return nil, fmt.Errorf("scan source stats row: %w", err)
		}
		stats.Sources = append(stats.Sources, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats rows: %w", err)
	}

	return stats, nil
}
