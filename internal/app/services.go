package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/dedup/internal/cli"
	"horse.fit/dedup/internal/config"
	"horse.fit/dedup/internal/db"
	"horse.fit/dedup/internal/logging"
	"horse.fit/dedup/internal/pipeline"
	"horse.fit/dedup/internal/scopelock"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// services is everything a dedup command needs once flags are parsed.
type services struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *db.Pool
	redis   *redis.Client
	service *pipeline.Service
}

func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// bootstrap connects the store, picks the scope locker and builds the
// pipeline service. The caller owns rt.close.
func bootstrap(ctx context.Context, envLoader *cli.EnvLoader) (*services, error) {
	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		return nil, err
	}

	thresholds, err := cfg.LoadThresholds()
	if err != nil {
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	rt := &services{cfg: cfg, logger: logger, pool: pool}

	var locker scopelock.Locker = scopelock.NewLocalLocker()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := scopelock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			rt.close()
			logger.Error().Err(err).Msg("failed to connect to redis")
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.redis = client
		locker = scopelock.NewRedisLocker(client, cfg.LockTTL)
	}

	svc, err := pipeline.NewService(pool, locker, thresholds, pipeline.OptionsFromConfig(cfg), logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to build dedup service: %w", err)
	}
	rt.service = svc
	return rt, nil
}

func (rt *services) close() {
	if rt == nil {
		return
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		_ = rt.pool.Close()
	}
}

type scopeFlags struct {
	sourceEntity *int64
	channel      *int64
}

func addScopeFlags(fs *flag.FlagSet) *scopeFlags {
	return &scopeFlags{
		sourceEntity: fs.Int64("source-entity", 0, "Only process this source entity id (0 = all)"),
		channel:      fs.Int64("channel", 0, "Only process this channel id (0 = all)"),
	}
}

func (f *scopeFlags) filter() (pipeline.ScopeFilter, error) {
	var filter pipeline.ScopeFilter
	if f == nil {
		return filter, nil
	}
	if f.sourceEntity != nil && *f.sourceEntity != 0 {
		if *f.sourceEntity < 0 {
			return filter, fmt.Errorf("--source-entity must be >= 0")
		}
		v := *f.sourceEntity
		filter.SourceEntityID = &v
	}
	if f.channel != nil && *f.channel != 0 {
		if *f.channel < 0 {
			return filter, fmt.Errorf("--channel must be >= 0")
		}
		v := *f.channel
		filter.ChannelID = &v
	}
	return filter, nil
}

func formatSummary(command string, s pipeline.Summary) string {
	line := fmt.Sprintf(
		"%s run=%s groups=%d skipped=%d processed=%d exact=%d fuzzy=%d conflicts=%d failed=%d",
		command,
		s.RunUUID,
		s.Groups,
		s.SkippedGroups,
		s.Processed,
		s.ExactDuplicates,
		s.FuzzyDuplicates,
		s.Conflicts,
		s.Failed,
	)
	if s.Stage == pipeline.StageSweep {
		line += fmt.Sprintf(" deleted_candidates=%d deleted_enriched=%d", s.Deleted.Candidates, s.Deleted.Enriched)
	}
	if !s.FinishedAt.IsZero() {
		line += fmt.Sprintf(" duration=%s", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	return line
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = defaultFormat
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}
