package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/dedup/internal/globaltime"
	"horse.fit/dedup/internal/pipeline"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
	maxRequestBytes  = 1 << 16
)

type scopeRequest struct {
	SourceEntityID *int64 `json:"source_entity_id"`
	ChannelID      *int64 `json:"channel_id"`
}

type sweepRequest struct {
	OlderThanHours *float64 `json:"older_than_hours"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.stats.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health ping failed")
		return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable", nil)
	}
	return success(c, map[string]any{
		"service": "dedup",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	days, err := parsePositiveInt(c.QueryParam("days"), defaultStatsDays, 1, maxStatsDays)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	since := globaltime.UTC().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := s.stats.QueryDuplicateStats(c.Request().Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Int("days", days).Msg("query duplicate stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleDedupURLs(c echo.Context) error {
	filter, fieldErrors := s.parseScopeFilter(c)
	if fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}
	summary, err := s.runner.RunURLDedup(c.Request().Context(), filter)
	return s.respondRun(c, summary, err)
}

func (s *Server) handleDedupContent(c echo.Context) error {
	filter, fieldErrors := s.parseScopeFilter(c)
	if fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}
	summary, err := s.runner.RunContentDedup(c.Request().Context(), filter)
	return s.respondRun(c, summary, err)
}

func (s *Server) handleSweep(c echo.Context) error {
	var req sweepRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	var olderThan time.Duration
	if req.OlderThanHours != nil {
		if *req.OlderThanHours <= 0 {
			return failValidation(c, map[string]string{"older_than_hours": "must be positive"})
		}
		olderThan = time.Duration(*req.OlderThanHours * float64(time.Hour))
	}

	summary, err := s.runner.Sweep(c.Request().Context(), olderThan)
	return s.respondRun(c, summary, err)
}

func (s *Server) parseScopeFilter(c echo.Context) (pipeline.ScopeFilter, map[string]string) {
	var req scopeRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return pipeline.ScopeFilter{}, map[string]string{"body": err.Error()}
	}

	fieldErrors := map[string]string{}
	if req.SourceEntityID != nil && *req.SourceEntityID <= 0 {
		fieldErrors["source_entity_id"] = "must be positive"
	}
	if req.ChannelID != nil && *req.ChannelID <= 0 {
		fieldErrors["channel_id"] = "must be positive"
	}
	if len(fieldErrors) > 0 {
		return pipeline.ScopeFilter{}, fieldErrors
	}
	return pipeline.ScopeFilter{SourceEntityID: req.SourceEntityID, ChannelID: req.ChannelID}, nil
}

// respondRun maps a batch result onto jsend. Per-record failures stay inside
// a success envelope; only a batch-level Error changes the status.
func (s *Server) respondRun(c echo.Context, summary pipeline.Summary, err error) error {
	if err == nil {
		return success(c, summary)
	}

	kind, ok := pipeline.KindOf(err)
	if !ok {
		s.logger.Error().Err(err).Msg("dedup run failed")
		return internalError(c, "Dedup run failed")
	}

	s.logger.Error().Err(err).Str("kind", string(kind)).Str("stage", string(summary.Stage)).Msg("dedup run failed")
	switch kind {
	case pipeline.ErrInvalidRequest:
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	case pipeline.ErrStoreUnavailable, pipeline.ErrCanceled:
		return errorWithStatus(c, http.StatusServiceUnavailable, string(kind), summary)
	default:
		return internalError(c, "Dedup run failed")
	}
}

// decodeJSONBody decodes an optional JSON object body. An empty body leaves
// dest untouched.
func decodeJSONBody(c echo.Context, dest any) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %v", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON: trailing data")
	}
	return nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
