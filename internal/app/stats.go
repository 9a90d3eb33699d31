package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/dedup/internal/cli"
	"horse.fit/dedup/internal/db"
	"horse.fit/dedup/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	days := fs.Int("days", 7, "Look-back window in days")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}
	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "--days must be > 0")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("stats failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	since := globaltime.UTC().Add(-time.Duration(*days) * 24 * time.Hour)
	stats, err := pool.QueryDuplicateStats(ctx, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query duplicate stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeStatsTables(stats); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render stats: %v\n", err)
		return 1
	}
	return 0
}

func writeStatsTables(stats *db.DuplicateStats) error {
	platformRows := make([][]string, 0, len(stats.Platforms))
	for _, row := range stats.Platforms {
		platform := row.Platform
		if platform == "" {
			platform = "(none)"
		}
		platformRows = append(platformRows, []string{
			platform,
			strconv.FormatInt(row.Candidates, 10),
			strconv.FormatInt(row.Duplicates, 10),
			fmt.Sprintf("%.1f%%", row.Rate*100),
		})
	}
	if err := writeTable([]string{"platform", "candidates", "duplicates", "rate"}, platformRows); err != nil {
		return err
	}

	fmt.Println()
	sourceRows := make([][]string, 0, len(stats.Sources))
	for _, row := range stats.Sources {
		sourceRows = append(sourceRows, []string{
			strconv.FormatInt(row.SourceEntityID, 10),
			strconv.FormatInt(row.Snapshots, 10),
			strconv.FormatInt(row.Superseded, 10),
		})
	}
	return writeTable([]string{"source_entity_id", "snapshots", "superseded"}, sourceRows)
}
