package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mtf-ensembles/internal/ensemble"
)

var (
	calibrateParameter string
	calibrateScan      []float64
	calibrateDefaults  []float64
	calibratePerPoint  int
)

var calibrateCmd = &cobra.Command{
	Use:     "calibrate",
	Short:   "Scan one parameter's true value and run an ensemble test at each point",
	Example: `  mtf-ensembles calibrate -m model.yaml --parameter signal --scan 0,25,50,100 --per-point 200`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel()
		if err != nil {
			return err
		}
		index := m.ParameterIndex(calibrateParameter)
		if index < 0 {
			return fmt.Errorf("%w: unknown parameter %q", ensemble.ErrIndexOutOfRange, calibrateParameter)
		}
		if len(calibrateScan) == 0 {
			return fmt.Errorf("no scan values given")
		}
		f, err := newFacility(m)
		if err != nil {
			return err
		}

		perPoint := calibratePerPoint
		if perPoint <= 0 {
			perPoint = cfg.Ensembles
		}
		table, err := f.Calibrate(cmd.Context(), parameterVector(m, calibrateDefaults), index, calibrateScan, perPoint, ensemble.ParseOptions(optionsFlag))
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), table)
	},
}

func init() {
	fl := calibrateCmd.Flags()
	fl.StringVar(&calibrateParameter, "parameter", "", "name of the scanned parameter")
	fl.Float64SliceVar(&calibrateScan, "scan", nil, "true values of the scanned parameter")
	fl.Float64SliceVar(&calibrateDefaults, "defaults", nil, "values of all parameters; defaults to the model start values")
	fl.IntVar(&calibratePerPoint, "per-point", 0, "repetitions per scan value; defaults to MTF_ENSEMBLES")
	_ = calibrateCmd.MarkFlagRequired("parameter")
}
