package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/dedup/internal/cli"
	"horse.fit/dedup/internal/pipeline"
)

// stageRunner matches the method expressions of the service's stage entry
// points.
type stageRunner func(svc *pipeline.Service, ctx context.Context, filter pipeline.ScopeFilter) (pipeline.Summary, error)

func runDedupURLs(args []string) int {
	return runStages("dedup-urls", args, (*pipeline.Service).RunURLDedup)
}

func runDedupContent(args []string) int {
	return runStages("dedup-content", args, (*pipeline.Service).RunContentDedup)
}

// runAll runs the URL stage and then the content stage. A batch failure in
// the URL stage skips the content stage.
func runAll(args []string) int {
	return runStages("run", args, (*pipeline.Service).RunURLDedup, (*pipeline.Service).RunContentDedup)
}

func runStages(command string, args []string, stages ...stageRunner) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	scope := addScopeFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	filter, err := scope.filter()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := bootstrap(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	for _, stage := range stages {
		summary, err := stage(rt.service, ctx, filter)
		if err != nil {
			rt.logger.Error().Err(err).Str("command", command).Str("stage", string(summary.Stage)).Msg("dedup stage failed")
			fmt.Fprintf(os.Stderr, "Dedup %s stage failed: %v\n", summary.Stage, err)
			fmt.Println(formatSummary(command, summary))
			return 1
		}
		for _, recErr := range summary.Errors {
			fmt.Fprintf(os.Stderr, "FAILED record=%d scope=%s op=%s: %s\n", recErr.RecordID, recErr.Scope, recErr.Op, recErr.Message)
		}
		fmt.Println(formatSummary(command, summary))
	}
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Hour, "Command timeout")
	olderThan := fs.Duration("older-than", 0, "Retention cutoff (0 = DEDUP_RETENTION)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *olderThan < 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be >= 0")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := bootstrap(ctx, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	summary, err := rt.service.Sweep(ctx, *olderThan)
	if err != nil {
		rt.logger.Error().Err(err).Dur("older_than", *olderThan).Msg("sweep failed")
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		fmt.Println(formatSummary("sweep", summary))
		return 1
	}
	fmt.Println(formatSummary("sweep", summary))
	return 0
}
