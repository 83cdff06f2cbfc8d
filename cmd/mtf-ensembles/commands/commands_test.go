package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mtf-ensembles/cmd/mockgen/engine"
)

type report struct {
	RunID  string `yaml:"run_id"`
	Output string `yaml:"output"`
	Rows   int    `yaml:"rows"`
}

func setup(t *testing.T) (dir, modelPath string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("LOGS_FOLDER", filepath.Join(dir, "logs"))
	t.Setenv("MTF_OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("MTF_ENSEMBLES", "3")
	t.Setenv("MTF_LOG_LEVEL", "error")

	m, err := engine.Generate(engine.GeneratorConfig{Channels: 2, Bins: 8, WithData: true, Seed: 3})
	require.NoError(t, err)
	modelPath = filepath.Join(dir, "model.yaml")
	require.NoError(t, engine.Save(modelPath, m))
	return dir, modelPath
}

func run(t *testing.T, args ...string) report {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var r report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &r))
	return r
}

func TestEnsembleCommand(t *testing.T) {
	dir, modelPath := setup(t)
	output := filepath.Join(dir, "ensemble.csv")

	r := run(t, "ensemble", "-m", modelPath, "--seed", "5", "-o", output)

	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, output, r.Output)
	assert.Equal(t, 3, r.Rows)
	_, err := os.Stat(output)
	assert.NoError(t, err)
}

func TestAnalyzeCommand(t *testing.T) {
	dir, modelPath := setup(t)
	output := filepath.Join(dir, "channels.jsonl")

	r := run(t, "analyze", "-m", modelPath, "--by", "channels", "-o", output)

	// Each channel alone, then the combination.
	assert.Equal(t, 3, r.Rows)
	_, err := os.Stat(output)
	assert.NoError(t, err)
}
