package pipeline

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/dedup/internal/record"
)

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGroupByScope_OrdersGroupsAndKeepsItemOrder(t *testing.T) {
	t.Parallel()

	items := []record.CandidateRecord{
		{ID: 1, SourceEntityID: 2, ChannelID: 1},
		{ID: 2, SourceEntityID: 1, ChannelID: 5},
		{ID: 3, SourceEntityID: 2, ChannelID: 1},
		{ID: 4, SourceEntityID: 1, ChannelID: 2},
	}
	groups := groupByScope(items, record.CandidateRecord.Scope)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	wantScopes := []record.Scope{{SourceEntityID: 1, ChannelID: 2}, {SourceEntityID: 1, ChannelID: 5}, {SourceEntityID: 2, ChannelID: 1}}
	for i, want := range wantScopes {
		if groups[i].scope != want {
			t.Fatalf("group %d scope = %v, want %v", i, groups[i].scope, want)
		}
	}
	last := groups[2].items
	if len(last) != 2 || last[0].ID != 1 || last[1].ID != 3 {
		t.Fatalf("expected item order to be preserved, got %+v", last)
	}
}

func TestSummaryErrorsAreBounded(t *testing.T) {
	t.Parallel()

	var summary Summary
	for i := 0; i < maxReportedErrors+10; i++ {
		summary.addError(RecordError{RecordID: int64(i), Op: "test"})
	}
	if summary.Failed != maxReportedErrors+10 {
		t.Fatalf("Failed = %d", summary.Failed)
	}
	if len(summary.Errors) != maxReportedErrors {
		t.Fatalf("len(Errors) = %d, want %d", len(summary.Errors), maxReportedErrors)
	}

	var merged Summary
	merged.merge(summary)
	if merged.Failed != summary.Failed || len(merged.Errors) != maxReportedErrors {
		t.Fatalf("unexpected merged summary: failed=%d errors=%d", merged.Failed, len(merged.Errors))
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := storeUnavailable("list", base)
	if kind, ok := KindOf(err); !ok || kind != ErrStoreUnavailable {
		t.Fatalf("unexpected kind: %v %v", kind, ok)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected error to wrap base")
	}
	if _, ok := KindOf(base); ok {
		t.Fatalf("expected plain error to have no kind")
	}
	if err.Error() != "store_unavailable: list: boom" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{MaxGroupSize: 1}.withDefaults()
	if opts.Workers != DefaultWorkers || opts.URLWindowLimit != DefaultURLWindowLimit || opts.MaxGroupSize != DefaultMaxGroupSize {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.ContentWindow != DefaultContentWindow || opts.Retention != DefaultRetention {
		t.Fatalf("unexpected window defaults: %+v", opts)
	}
}
