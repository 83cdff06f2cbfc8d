package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mtf-ensembles/internal/config"
	"mtf-ensembles/internal/logging"
	"mtf-ensembles/internal/metrics"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose     bool
	logLevel    string
	modelPath   string
	seed        uint64
	workers     int
	optionsFlag string
	outputPath  string
	metricsAddr string

	cfg         *config.AppConfig
	stopMetrics func()
)

var rootCmd = &cobra.Command{
	Use:   "mtf-ensembles",
	Short: "Ensemble tests and calibration for multi-template fits",
	Long: `Generates pseudo-data from known parameters of a multi-template fit model,
refits every set and tabulates the recovered estimates for bias, pull and
coverage studies. Also serves the same operations as MCP tools.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			level = os.Getenv("MTF_LOG_LEVEL")
		}
		if err := logging.Init(logging.Options{Level: level, Verbose: verbose}); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd)

		if cfg.MetricsAddr != "" {
			stopMetrics = metrics.StartServer(cfg.MetricsAddr)
		}

		log.Debug().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Uint64("seed", cfg.Seed).
			Int("workers", cfg.Workers).
			Msg("mtf-ensembles starting")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopMetrics != nil {
			stopMetrics()
		}
	},
}

// applyFlags lets explicitly set flags override the loaded configuration.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.ModelPath = modelPath
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context;
// running ensemble tests stop before their next repetition.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	pf.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error); defaults to MTF_LOG_LEVEL")
	pf.StringVarP(&modelPath, "model", "m", "", "model description YAML; defaults to MTF_MODEL")
	pf.Uint64Var(&seed, "seed", 0, "random seed; defaults to MTF_SEED")
	pf.IntVarP(&workers, "workers", "j", 1, "parallel fit workers; defaults to MTF_WORKERS")
	pf.StringVar(&optionsFlag, "options", "", "option flags: data, MC, nosyst, mcmc")
	pf.StringVarP(&outputPath, "output", "o", "", "result file (.csv, .jsonl or .json)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address; defaults to MTF_METRICS_ADDR")

	rootCmd.AddCommand(ensembleCmd, calibrateCmd, generateCmd, analyzeCmd, serveCmd)
}
