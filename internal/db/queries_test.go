package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm/logger"

	"horse.fit/dedup/internal/pipeline"
	"horse.fit/dedup/internal/record"
)

func TestClassifyWriteError(t *testing.T) {
	t.Parallel()

	unique := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "candidate_records_scope_url_fp_uniq"})
	if err := classifyWriteError(unique); !errors.Is(err, record.ErrFingerprintConflict) {
		t.Fatalf("expected fingerprint conflict, got %v", err)
	}

	other := &pgconn.PgError{Code: "23503"}
	if err := classifyWriteError(other); errors.Is(err, record.ErrFingerprintConflict) {
		t.Fatalf("foreign key violation must not map to a fingerprint conflict")
	}

	if err := classifyWriteError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		env   string
		want  logger.LogLevel
	}{
		{level: "debug", want: logger.Info},
		{level: "info", want: logger.Warn},
		{level: "", want: logger.Warn},
		{level: "error", want: logger.Error},
		{level: "silent", want: logger.Silent},
		{level: "verbose", env: "local", want: logger.Warn},
		{level: "verbose", env: "production", want: logger.Error},
	}
	for _, tc := range tests {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}

func TestPendingCandidatesQuery_AppliesScopeFilter(t *testing.T) {
	t.Parallel()

	source := int64(7)
	query, args, err := pendingCandidatesQuery(pipeline.ScopeFilter{SourceEntityID: &source}, 50)
	if err != nil {
		t.Fatalf("pendingCandidatesQuery returned error: %v", err)
	}
	for _, fragment := range []string{
		"FROM dedup.candidate_records",
		"status = 'pending'",
		"url_fingerprint IS NULL",
		"source_entity_id = $1",
		"ORDER BY source_entity_id, channel_id, discovered_at, id",
		"LIMIT 50",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected %q in query: %s", fragment, query)
		}
	}
	if strings.Contains(query, "channel_id = $") {
		t.Fatalf("unexpected channel filter: %s", query)
	}
	if len(args) != 1 || args[0] != source {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestRecentEnrichedQuery_BothFilters(t *testing.T) {
	t.Parallel()

	source, channel := int64(1), int64(2)
	since := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	query, args, err := recentEnrichedQuery(pipeline.ScopeFilter{SourceEntityID: &source, ChannelID: &channel}, since, 10)
	if err != nil {
		t.Fatalf("recentEnrichedQuery returned error: %v", err)
	}
	if !strings.Contains(query, "captured_at >= $1") || !strings.Contains(query, "source_entity_id = $2") || !strings.Contains(query, "channel_id = $3") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %#v", args)
	}
}

func TestDeleteBatchQuery_RenumbersNestedPlaceholders(t *testing.T) {
	t.Parallel()

	before := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := deleteBatchQuery(candidateTable, "status = 'duplicate'", "discovered_at", before, 25)
	if err != nil {
		t.Fatalf("deleteBatchQuery returned error: %v", err)
	}
	if !strings.HasPrefix(query, "DELETE FROM dedup.candidate_records WHERE id IN (SELECT id FROM dedup.candidate_records") {
		t.Fatalf("unexpected query: %s", query)
	}
	if !strings.Contains(query, "discovered_at < $1") || !strings.Contains(query, "LIMIT 25") || strings.Contains(query, "?") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 1 || args[0] != before {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestPlatformRateQuery(t *testing.T) {
	t.Parallel()

	query, args, err := platformRateQuery(time.Now())
	if err != nil {
		t.Fatalf("platformRateQuery returned error: %v", err)
	}
	if !strings.Contains(query, "GROUP BY platform") || !strings.Contains(query, "discovered_at >= $1") {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 1 {
		t.Fatalf("unexpected args: %#v", args)
	}
}
