package commands

import (
	"github.com/spf13/cobra"

	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/results"
)

var (
	ensembleParams  []float64
	ensembleSamples string
	ensembleStart   int
	ensembleCount   int
)

var ensembleCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Run an ensemble test from a parameter vector or a sample table",
	Example: `  mtf-ensembles ensemble -m model.yaml --params 300,50,0 -n 1000
  mtf-ensembles ensemble -m model.yaml --samples posterior.csv --start 100 -n 500 --options mcmc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel()
		if err != nil {
			return err
		}
		f, err := newFacility(m)
		if err != nil {
			return err
		}

		count := ensembleCount
		if !cmd.Flags().Changed("count") {
			count = cfg.Ensembles
		}
		opts := ensemble.ParseOptions(optionsFlag)

		var table *ensemble.ResultTable
		if ensembleSamples != "" {
			samples, err := results.LoadSamplesCSV(ensembleSamples, m.ParameterNames())
			if err != nil {
				return err
			}
			table, err = f.PerformEnsembleTestFromSamples(cmd.Context(), samples, count, ensembleStart, opts)
			if err != nil {
				return err
			}
		} else {
			table, err = f.PerformEnsembleTest(cmd.Context(), parameterVector(m, ensembleParams), count, opts)
			if err != nil {
				return err
			}
		}
		return finish(cmd.OutOrStdout(), table)
	},
}

func init() {
	fl := ensembleCmd.Flags()
	fl.Float64SliceVar(&ensembleParams, "params", nil, "true parameter vector (processes, then systematics); defaults to the model start values")
	fl.StringVar(&ensembleSamples, "samples", "", "CSV of parameter samples, one column per parameter name")
	fl.IntVar(&ensembleStart, "start", 0, "first sample row to use")
	fl.IntVarP(&ensembleCount, "count", "n", 0, "number of repetitions; defaults to MTF_ENSEMBLES")
}
