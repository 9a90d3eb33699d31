package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"horse.fit/dedup/internal/config"
	"horse.fit/dedup/internal/globaltime"
	"horse.fit/dedup/internal/record"
	"horse.fit/dedup/internal/scopelock"
	"horse.fit/dedup/internal/urlcanon"
)

const (
	DefaultWorkers        = 4
	DefaultURLWindow      = 7 * 24 * time.Hour
	DefaultURLWindowLimit = 100
	DefaultContentWindow  = 24 * time.Hour
	DefaultMaxGroupSize   = 1000
	DefaultBatchLimit     = 5000
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultSweepBatchSize = 500
	DefaultSweepRate      = 2

	maxReportedErrors = 100
)

type Stage string

const (
	StageURL     Stage = "url"
	StageContent Stage = "content"
	StageSweep   Stage = "sweep"
)

type ErrorKind string

const (
	ErrStoreUnavailable ErrorKind = "store_unavailable"
	ErrInvalidRequest   ErrorKind = "invalid_request"
	ErrCanceled         ErrorKind = "canceled"
)

// Error is the failure half of a batch result. Partial failures never
// produce one; they are listed in Summary.Errors instead.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the ErrorKind of a batch failure.
func KindOf(err error) (ErrorKind, bool) {
	var batchErr *Error
	if errors.As(err, &batchErr) {
		return batchErr.Kind, true
	}
	return "", false
}

// RecordError describes one record the batch could not evaluate. The record
// keeps its state and is retried by the next run.
type RecordError struct {
	RecordID int64  `json:"record_id"`
	Scope    string `json:"scope,omitempty"`
	Op       string `json:"op"`
	Message  string `json:"message"`
}

type DeletedCounts struct {
	Candidates int64 `json:"candidates"`
	Enriched   int64 `json:"enriched"`
}

// Summary is the success half of a batch result.
type Summary struct {
	RunUUID          string        `json:"run_uuid"`
	Stage            Stage         `json:"stage"`
	Groups           int           `json:"groups"`
	SkippedGroups    int           `json:"skipped_groups"`
	Processed        int           `json:"processed"`
	ExactDuplicates  int           `json:"exact_duplicates"`
	FuzzyDuplicates  int           `json:"fuzzy_duplicates"`
	Conflicts        int           `json:"conflicts"`
	SimilarityChecks int           `json:"similarity_checks"`
	Deleted          DeletedCounts `json:"deleted"`
	Failed           int           `json:"failed"`
	Errors           []RecordError `json:"errors"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

func (s *Summary) addError(e RecordError) {
	s.Failed++
	if len(s.Errors) < maxReportedErrors {
		s.Errors = append(s.Errors, e)
	}
}

func (s *Summary) merge(other Summary) {
	s.Groups += other.Groups
	s.SkippedGroups += other.SkippedGroups
	s.Processed += other.Processed
	s.ExactDuplicates += other.ExactDuplicates
	s.FuzzyDuplicates += other.FuzzyDuplicates
	s.Conflicts += other.Conflicts
	s.SimilarityChecks += other.SimilarityChecks
	s.Deleted.Candidates += other.Deleted.Candidates
	s.Deleted.Enriched += other.Deleted.Enriched
	s.Failed += other.Failed
	for _, e := range other.Errors {
		if len(s.Errors) >= maxReportedErrors {
			break
		}
		s.Errors = append(s.Errors, e)
	}
}

// ScopeFilter narrows a run to one source entity and/or channel. Nil fields
// match everything.
type ScopeFilter struct {
	SourceEntityID *int64 `json:"source_entity_id,omitempty"`
	ChannelID      *int64 `json:"channel_id,omitempty"`
}

type EventKind string

const (
	EventURLExact       EventKind = "url_exact"
	EventURLFuzzy       EventKind = "url_fuzzy"
	EventContentExact   EventKind = "content_exact"
	EventContentFuzzy   EventKind = "content_fuzzy"
	EventConflictSignal EventKind = "conflict_signal"
)

// Event is one audited dedup decision.
type Event struct {
	RunUUID   string
	Stage     Stage
	Kind      EventKind
	RecordID  int64
	MatchedID int64
	Score     *float64
	Details   map[string]any
	CreatedAt time.Time
}

// Store is the record store as seen by the batch deduplicator. Writes that
// collide with a scoped fingerprint uniqueness constraint must return
// record.ErrFingerprintConflict.
type Store interface {
	ListPendingCandidates(ctx context.Context, filter ScopeFilter, limit int) ([]record.CandidateRecord, error)
	FindCandidateByURLFingerprint(ctx context.Context, scope record.Scope, fingerprint []byte, excludeID int64) (int64, bool, error)
	RecentCandidates(ctx context.Context, scope record.Scope, since time.Time, excludeID int64, limit int) ([]record.CandidateRecord, error)
	SetCandidateFingerprint(ctx context.Context, id int64, fingerprint []byte, canonicalURL string) error
	MarkCandidateDuplicate(ctx context.Context, id, duplicateOf int64, fingerprint []byte, canonicalURL string) error

	ListRecentEnriched(ctx context.Context, filter ScopeFilter, since time.Time, limit int) ([]record.EnrichedRecord, error)
	FindLatestByContentFingerprint(ctx context.Context, scope record.Scope, fingerprint []byte, excludeID int64) (record.EnrichedRecord, bool, error)
	SetContentFingerprint(ctx context.Context, id int64, fingerprint []byte) error
	MarkEnrichedSuperseded(ctx context.Context, id, duplicateOf int64, fingerprint []byte) error

	DeleteDuplicateCandidates(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteSupersededEnriched(ctx context.Context, before time.Time, limit int) (int64, error)

	StartRun(ctx context.Context, runUUID string, stage Stage, startedAt time.Time) error
	FinishRun(ctx context.Context, runUUID string, summary Summary) error
	RecordEvent(ctx context.Context, event Event) error
}

type Options struct {
	Workers        int
	URLWindow      time.Duration
	URLWindowLimit int
	ContentWindow  time.Duration
	MaxGroupSize   int
	BatchLimit     int
	Retention      time.Duration
	SweepBatchSize int
	SweepRate      rate.Limit
}

func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Workers:        cfg.Workers,
		URLWindow:      cfg.URLWindow,
		URLWindowLimit: cfg.URLWindowLimit,
		ContentWindow:  cfg.ContentWindow,
		MaxGroupSize:   cfg.MaxGroupSize,
		BatchLimit:     cfg.BatchLimit,
		Retention:      cfg.Retention,
		SweepBatchSize: cfg.SweepBatchSize,
		SweepRate:      rate.Limit(cfg.SweepRate),
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.URLWindow <= 0 {
		o.URLWindow = DefaultURLWindow
	}
	if o.URLWindowLimit <= 0 {
		o.URLWindowLimit = DefaultURLWindowLimit
	}
	if o.ContentWindow <= 0 {
		o.ContentWindow = DefaultContentWindow
	}
	if o.MaxGroupSize < 2 {
		o.MaxGroupSize = DefaultMaxGroupSize
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = DefaultBatchLimit
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = DefaultSweepBatchSize
	}
	if o.SweepRate <= 0 {
		o.SweepRate = DefaultSweepRate
	}
	return o
}

// Service runs the URL stage, the content stage and the retention sweep.
// It holds no state between runs beyond its immutable configuration.
type Service struct {
	store      Store
	locker     scopelock.Locker
	canon      *urlcanon.Canonicalizer
	thresholds config.ThresholdSet
	opts       Options
	logger     zerolog.Logger
}

func NewService(
	store Store,
	locker scopelock.Locker,
	thresholds config.ThresholdSet,
	opts Options,
	logger zerolog.Logger,
) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("pipeline store is nil")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if locker == nil {
		locker = scopelock.NewLocalLocker()
	}
	return &Service{
		store:      store,
		locker:     locker,
		canon:      urlcanon.New(thresholds.TrackingParams),
		thresholds: thresholds,
		opts:       opts.withDefaults(),
		logger:     logger,
	}, nil
}

func (s *Service) Thresholds() config.ThresholdSet {
	return s.thresholds
}

func (s *Service) startRun(ctx context.Context, stage Stage) Summary {
	summary := Summary{
		RunUUID:   uuid.NewString(),
		Stage:     stage,
		StartedAt: globaltime.UTC(),
		Errors:    []RecordError{},
	}
	if err := s.store.StartRun(ctx, summary.RunUUID, stage, summary.StartedAt); err != nil {
		s.logger.Warn().Err(err).Str("run_uuid", summary.RunUUID).Str("stage", string(stage)).Msg("record run start failed")
	}
	return summary
}

func (s *Service) finishRun(ctx context.Context, summary *Summary) {
	summary.FinishedAt = globaltime.UTC()
	if err := s.store.FinishRun(context.WithoutCancel(ctx), summary.RunUUID, *summary); err != nil {
		s.logger.Warn().Err(err).Str("run_uuid", summary.RunUUID).Msg("record run finish failed")
	}
	s.logger.Info().
		Str("run_uuid", summary.RunUUID).
		Str("stage", string(summary.Stage)).
		Int("groups", summary.Groups).
		Int("skipped_groups", summary.SkippedGroups).
		Int("processed", summary.Processed).
		Int("exact_duplicates", summary.ExactDuplicates).
		Int("fuzzy_duplicates", summary.FuzzyDuplicates).
		Int("conflicts", summary.Conflicts).
		Int64("deleted_candidates", summary.Deleted.Candidates).
		Int64("deleted_enriched", summary.Deleted.Enriched).
		Int("failed", summary.Failed).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("dedup run completed")
}

func (s *Service) recordEvent(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = globaltime.UTC()
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", string(event.Kind)).
			Int64("record_id", event.RecordID).
			Msg("record dedup event failed")
	}
}

// runGroups processes each scope on the worker pool. A group whose lock is
// held elsewhere is skipped and picked up by a later run.
func runGroups[T any](
	ctx context.Context,
	s *Service,
	stage Stage,
	groups []scopeGroup[T],
	summary *Summary,
	process func(ctx context.Context, scope record.Scope, items []T, out *Summary) error,
) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Workers)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			var local Summary
			release, err := s.locker.Acquire(ctx, string(stage), group.scope)
			switch {
			case errors.Is(err, scopelock.ErrNotAcquired):
				s.logger.Info().Str("stage", string(stage)).Str("scope", group.scope.String()).Msg("scope busy, skipping group")
				local.SkippedGroups++
			case err != nil:
				local.SkippedGroups++
				local.addError(RecordError{Scope: group.scope.String(), Op: "acquire_lock", Message: err.Error()})
			default:
				local.Groups++
				procErr := process(ctx, group.scope, group.items, &local)
				if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
					s.logger.Warn().Err(relErr).Str("scope", group.scope.String()).Msg("release scope lock failed")
				}
				s.logger.Debug().
					Str("stage", string(stage)).
					Int64("source_entity_id", group.scope.SourceEntityID).
					Int64("channel_id", group.scope.ChannelID).
					Int("processed", local.Processed).
					Int("exact_duplicates", local.ExactDuplicates).
					Int("fuzzy_duplicates", local.FuzzyDuplicates).
					Int("failed", local.Failed).
					Msg("dedup group processed")
				if procErr != nil {
					mu.Lock()
					summary.merge(local)
					mu.Unlock()
					return procErr
				}
			}

			mu.Lock()
			summary.merge(local)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

type scopeGroup[T any] struct {
	scope record.Scope
	items []T
}

// groupByScope keeps the input order inside each group and orders groups by
// scope.
func groupByScope[T any](items []T, scopeOf func(T) record.Scope) []scopeGroup[T] {
	index := make(map[record.Scope]int)
	var groups []scopeGroup[T]
	for _, item := range items {
		scope := scopeOf(item)
		i, ok := index[scope]
		if !ok {
			i = len(groups)
			index[scope] = i
			groups = append(groups, scopeGroup[T]{scope: scope})
		}
		groups[i].items = append(groups[i].items, item)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].scope.SourceEntityID != groups[j].scope.SourceEntityID {
			return groups[i].scope.SourceEntityID < groups[j].scope.SourceEntityID
		}
		return groups[i].scope.ChannelID < groups[j].scope.ChannelID
	})
	return groups
}

func storeUnavailable(op string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrCanceled, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &Error{Kind: ErrStoreUnavailable, Err: fmt.Errorf("%s: %w", op, err)}
}

func floatPtr(v float64) *float64 {
	p := new(float64)
	*p = v
	return p
}
