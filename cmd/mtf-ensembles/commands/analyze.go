package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mtf-ensembles/internal/ensemble"
)

var analyzeBy string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Fit the model's observed data per channel or per systematic",
	Long: `Fits the data attached to the model once per configuration: each channel
alone and the combination (--by channels), or without systematics, with
each systematic alone and with all of them (--by systematics).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel()
		if err != nil {
			return err
		}
		data, err := m.ObservedData()
		if err != nil {
			return err
		}
		f, err := newFacility(m)
		if err != nil {
			return err
		}

		opts := ensemble.ParseOptions(optionsFlag)
		var table *ensemble.ResultTable
		switch analyzeBy {
		case "channels":
			table, err = f.AnalyzeChannels(cmd.Context(), data, opts)
		case "systematics":
			table, err = f.AnalyzeSystematics(cmd.Context(), data, opts)
		default:
			return fmt.Errorf("unknown analysis %q: use channels or systematics", analyzeBy)
		}
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), table)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeBy, "by", "channels", "channels or systematics")
}
