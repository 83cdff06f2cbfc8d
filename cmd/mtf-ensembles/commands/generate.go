package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mtf-ensembles/internal/ensemble"
)

var (
	generateParams []float64
	generateCount  int
)

type pseudoDataLine struct {
	Index      int                  `json:"index"`
	Stream     uint64               `json:"stream"`
	Parameters []float64            `json:"parameters"`
	Channels   map[string][]float64 `json:"channels"`
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write pseudo-data sets as JSONL without fitting them",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel()
		if err != nil {
			return err
		}
		f, err := newFacility(m)
		if err != nil {
			return err
		}
		ens, err := f.BuildEnsembles(parameterVector(m, generateParams), generateCount, ensemble.ParseOptions(optionsFlag))
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if outputPath != "" {
			file, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()
			out = file
		}
		w := bufio.NewWriter(out)
		enc := json.NewEncoder(w)

		for _, set := range ens.All() {
			line := pseudoDataLine{
				Index:      set.Index,
				Stream:     set.Stream,
				Parameters: set.Parameters,
				Channels:   make(map[string][]float64, len(set.Channels)),
			}
			for c, h := range set.Channels {
				line.Channels[m.Channels[c].Name] = h.Contents
			}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("failed to encode set %d: %w", set.Index, err)
			}
		}
		if err := ens.Err(); err != nil {
			return err
		}
		return w.Flush()
	},
}

func init() {
	fl := generateCmd.Flags()
	fl.Float64SliceVar(&generateParams, "params", nil, "true parameter vector; defaults to the model start values")
	fl.IntVarP(&generateCount, "count", "n", 1, "number of pseudo-data sets")
}
