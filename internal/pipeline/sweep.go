package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/dedup/internal/globaltime"
)

// Sweep hard-deletes duplicate candidates and superseded enriched records
// older than olderThan. A non-positive olderThan selects the configured
// retention. Deletes run in bounded batches paced by a rate limiter.
func (s *Service) Sweep(ctx context.Context, olderThan time.Duration) (summary Summary, err error) {
	if s == nil || s.store == nil {
		return Summary{}, &Error{Kind: ErrInvalidRequest, Err: fmt.Errorf("pipeline service is not initialized")}
	}
	if olderThan <= 0 {
		olderThan = s.opts.Retention
	}

	summary = s.startRun(ctx, StageSweep)
	defer s.finishRun(ctx, &summary)

	cutoff := globaltime.UTC().Add(-olderThan)
	limiter := rate.NewLimiter(s.opts.SweepRate, 1)

	tables := []struct {
		name    string
		deleted *int64
		delete  func(context.Context, time.Time, int) (int64, error)
	}{
		{name: "candidate_records", deleted: &summary.Deleted.Candidates, delete: s.store.DeleteDuplicateCandidates},
		{name: "enriched_records", deleted: &summary.Deleted.Enriched, delete: s.store.DeleteSupersededEnriched},
	}

	first := true
	for _, table := range tables {
		for {
			if err := limiter.Wait(ctx); err != nil {
				return summary, &Error{Kind: ErrCanceled, Err: fmt.Errorf("sweep %s: %w", table.name, err)}
			}
			n, err := table.delete(ctx, cutoff, s.opts.SweepBatchSize)
			if err != nil {
				if first {
					return summary, storeUnavailable("sweep "+table.name, err)
				}
				s.logger.Warn().Err(err).Str("table", table.name).Msg("sweep batch failed")
				summary.addError(RecordError{Op: "sweep_" + table.name, Message: err.Error()})
				break
			}
			first = false
			*table.deleted += n
			summary.Processed += int(n)
			if n < int64(s.opts.SweepBatchSize) {
				break
			}
		}
	}
	return summary, nil
}
