package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"horse.fit/dedup/internal/urlcanon"
)

//go:embed thresholds.schema.json
var thresholdsSchemaJSON string

const (
	DefaultURLSimilarity      = 0.95
	DefaultTitleSimilarity    = 0.90
	DefaultContentSimilarity  = 0.85
	DefaultMetadataSimilarity = 0.95
	DefaultDateProximity      = 24 * time.Hour
)

// ThresholdSet is loaded once at start and never mutated afterwards.
type ThresholdSet struct {
	URLSimilarity      float64
	TitleSimilarity    float64
	ContentSimilarity  float64
	MetadataSimilarity float64
	DateProximity      time.Duration
	TrackingParams     map[string][]string
}

type thresholdFile struct {
	URLSimilarity      *float64            `json:"url_similarity"`
	TitleSimilarity    *float64            `json:"title_similarity"`
	ContentSimilarity  *float64            `json:"content_similarity"`
	MetadataSimilarity *float64            `json:"metadata_similarity"`
	DateProximityDays  *float64            `json:"date_proximity_days"`
	TrackingParams     map[string][]string `json:"tracking_params"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		URLSimilarity:      DefaultURLSimilarity,
		TitleSimilarity:    DefaultTitleSimilarity,
		ContentSimilarity:  DefaultContentSimilarity,
		MetadataSimilarity: DefaultMetadataSimilarity,
		DateProximity:      DefaultDateProximity,
		TrackingParams:     urlcanon.DefaultTrackingParams(),
	}
}

// LoadThresholds returns the defaults, overridden by DEDUP_THRESHOLDS_FILE
// when it is set.
func (c *Config) LoadThresholds() (ThresholdSet, error) {
	if c == nil || strings.TrimSpace(c.ThresholdsFile) == "" {
		return DefaultThresholds(), nil
	}
	return LoadThresholdFile(c.ThresholdsFile)
}

func LoadThresholdFile(path string) (ThresholdSet, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("read thresholds file: %w", err)
	}
	set, err := ParseThresholds(raw)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("thresholds file %s: %w", path, err)
	}
	return set, nil
}

// ParseThresholds accepts YAML (and therefore JSON) documents. Keys left out
// keep their defaults; a tracking_params entry replaces that platform's list.
func ParseThresholds(raw []byte) (ThresholdSet, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ThresholdSet{}, fmt.Errorf("decode YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	asJSON, err := json.Marshal(doc)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("convert YAML to JSON: %w", err)
	}
	value, err := decodeStrictJSON(asJSON)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("decode JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return ThresholdSet{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var file thresholdFile
	if err := json.Unmarshal(asJSON, &file); err != nil {
		return ThresholdSet{}, fmt.Errorf("unmarshal thresholds: %w", err)
	}

	set := DefaultThresholds()
	if file.URLSimilarity != nil {
		set.URLSimilarity = *file.URLSimilarity
	}
	if file.TitleSimilarity != nil {
		set.TitleSimilarity = *file.TitleSimilarity
	}
	if file.ContentSimilarity != nil {
		set.ContentSimilarity = *file.ContentSimilarity
	}
	if file.MetadataSimilarity != nil {
		set.MetadataSimilarity = *file.MetadataSimilarity
	}
	if file.DateProximityDays != nil {
		set.DateProximity = time.Duration(*file.DateProximityDays * float64(24*time.Hour))
	}
	for platform, keys := range file.TrackingParams {
		name := strings.ToLower(strings.TrimSpace(platform))
		set.TrackingParams[name] = append([]string(nil), keys...)
	}

	if err := set.Validate(); err != nil {
		return ThresholdSet{}, err
	}
	return set, nil
}

func (t ThresholdSet) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"url_similarity", t.URLSimilarity},
		{"title_similarity", t.TitleSimilarity},
		{"content_similarity", t.ContentSimilarity},
		{"metadata_similarity", t.MetadataSimilarity},
	}
	for _, check := range checks {
		if math.IsNaN(check.value) || check.value <= 0 || check.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", check.name, check.value)
		}
	}
	if t.DateProximity < 0 {
		return fmt.Errorf("date proximity must be >= 0")
	}

	platforms := make([]string, 0, len(t.TrackingParams))
	for platform := range t.TrackingParams {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	for _, platform := range platforms {
		if strings.TrimSpace(platform) == "" {
			return fmt.Errorf("tracking_params contains an empty platform name")
		}
		for i, key := range t.TrackingParams[platform] {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("tracking_params.%s[%d] must not be empty", platform, i)
			}
		}
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("thresholds.schema.json", strings.NewReader(thresholdsSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("thresholds.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("document is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("document contains trailing content")
	}
	return value, nil
}
