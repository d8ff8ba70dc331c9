package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ngirimana/finindex/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		fromYear    = flag.Int("from", cfg.FromYear, "first year to generate")
		toYear      = flag.Int("to", cfg.ToYear, "last year to generate")
		drift       = flag.Float64("drift", cfg.Drift, "largest yearly change of a sub-score, in points")
		seed        = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		output      = flag.String("out", "data/country-data.csv", "import file to write (.csv or .xlsx)")
		writeStdout = flag.Bool("stdout", false, "write the records as JSON to stdout instead of a file")
	)
	flag.Parse()

	genCfg := generator.Config{
		FromYear: *fromYear,
		ToYear:   *toYear,
		Drift:    *drift,
		Seed:     *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *output); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d records for %d-%d into %s\n", len(dataset.Records), *fromYear, *toYear, *output)
}
