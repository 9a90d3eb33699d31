package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/dedup/internal/config"
)

func runValidateThresholds(args []string) int {
	fs := flag.NewFlagSet("validate-thresholds", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	file := fs.String("file", "", "Thresholds YAML or JSON file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	path := strings.TrimSpace(*file)
	if path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	set, err := config.LoadThresholdFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		return 1
	}

	fmt.Printf(
		"validate-thresholds ok file=%s url=%.2f title=%.2f content=%.2f metadata=%.2f date_proximity=%s platforms=%d\n",
		path,
		set.URLSimilarity,
		set.TitleSimilarity,
		set.ContentSimilarity,
		set.MetadataSimilarity,
		set.DateProximity,
		len(set.TrackingParams),
	)
	return 0
}
