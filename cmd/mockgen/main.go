package main

import (
	"flag"
	"fmt"
	"os"

	"mtf-ensembles/cmd/mockgen/engine"
)

func main() {
	name := flag.String("name", "mock", "Model name")
	background := flag.String("background", "exponential", "Background shape: flat, exponential")
	channels := flag.Int("channels", 1, "Number of channels sharing the yields")
	bins := flag.Int("bins", 20, "Bins per channel")
	signal := flag.Float64("signal", 100, "True signal yield")
	bkg := flag.Float64("bkg", 1000, "True background yield")
	scale := flag.Float64("scale", 0, "Relative peak-scale systematic (0 disables it)")
	withData := flag.Bool("data", true, "Attach Poisson data drawn at the true yields")
	seed := flag.Uint64("seed", 4357, "Random seed for the attached data")
	out := flag.String("out", "./.cache/mock_model.yaml", "Output model file")
	flag.Parse()

	cfg := engine.GeneratorConfig{
		Name:            *name,
		Background:      *background,
		Channels:        *channels,
		Bins:            *bins,
		SignalYield:     *signal,
		BackgroundYield: *bkg,
		Scale:           *scale,
		WithData:        *withData,
		Seed:            *seed,
	}

	fmt.Printf("Generating model '%s' (Background: %s, Channels: %d, Bins: %d) to %s...\n", cfg.Name, cfg.Background, cfg.Channels, cfg.Bins, *out)

	m, err := engine.Generate(cfg)
	if err != nil {
		fmt.Printf("Failed to generate model: %v\n", err)
		os.Exit(1)
	}
	if err := engine.Save(*out, m); err != nil {
		fmt.Printf("Failed to save model: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Done.")
}
