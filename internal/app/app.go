package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "dedup-urls":
		return runDedupURLs(args[1:])
	case "dedup-content":
		return runDedupContent(args[1:])
	case "run":
		return runAll(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "stats":
		return runStats(args[1:])
	case "validate-thresholds":
		return runValidateThresholds(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "dedup CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  dedup <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health               Verify database (and Redis, when configured) connectivity")
	fmt.Fprintln(os.Stderr, "  dedup-urls           Fingerprint pending candidates and mark URL duplicates")
	fmt.Fprintln(os.Stderr, "  dedup-content        Supersede duplicate enriched snapshots")
	fmt.Fprintln(os.Stderr, "  run                  Run dedup-urls then dedup-content")
	fmt.Fprintln(os.Stderr, "  sweep                Delete expired duplicates and superseded snapshots")
	fmt.Fprintln(os.Stderr, "  stats                Show duplicate rates per platform and source entity")
	fmt.Fprintln(os.Stderr, "  validate-thresholds  Check a thresholds YAML/JSON file")
	fmt.Fprintln(os.Stderr, "  serve                Start the trigger API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"dedup <command> -h\" for command-specific flags.")
}
