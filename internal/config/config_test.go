package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

func envMap(m map[string]string) Option {
	return WithGetenv(func(k string) string { return m[k] })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullYAML = `
data:
  source: https://example.com/credit.csv
  format: delimited
  delimiter: ";"
  kinds:
    installment_rate: categorical
  na: ["?", "NA"]
  timeout: 10s
  retries: 2
  drop_na: true
model:
  variant: svmRadial
  target: class
  features: [duration, amount]
  train_fraction: 0.8
  seed: 42
  scale: false
  params:
    C: 2
search:
  enabled: true
  folds: 5
  repeats: 2
  workers: 4
  grid:
    - name: C
      values: [0.5, 1, 2]
    - name: sigma
      values: [0.01, 0.1]
output:
  format: markdown
  tree: true
  confusion_plot: out/confusion.png
store:
  path: runs.db
log:
  level: debug
`

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	def := pipeline.DefaultConfig()
	assert.Equal(t, def.Variant, p.Variant)
	assert.Equal(t, def.TrainFraction, p.TrainFraction)
	assert.Equal(t, def.Seed, p.Seed)
	assert.Equal(t, def.Folds, p.Folds)
	assert.Equal(t, def.Repeats, p.Repeats)
	assert.True(t, p.Search)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "clfpipe.yaml", fullYAML)
	cfg, err := Load(path, WithEnvFile(""), envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/credit.csv", cfg.Data.Source)
	assert.Equal(t, 10*time.Second, cfg.Data.Timeout)
	assert.Equal(t, []string{"?", "NA"}, cfg.Data.NA)
	assert.Equal(t, "markdown", cfg.Output.Format)
	assert.Equal(t, "runs.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, pipeline.SVMRadial, p.Variant)
	assert.Equal(t, "class", p.Target)
	assert.Equal(t, []string{"duration", "amount"}, p.Features)
	assert.Equal(t, 0.8, p.TrainFraction)
	assert.Equal(t, uint64(42), p.Seed)
	require.NotNil(t, p.Scale)
	assert.False(t, *p.Scale)
	assert.True(t, p.DropNA)
	assert.Equal(t, pipeline.Params{"C": 2}, p.Params)
	require.Len(t, p.Grid, 2)
	assert.Equal(t, "sigma", p.Grid[1].Name)
	assert.Equal(t, []float64{0.01, 0.1}, p.Grid[1].Values)

	opts, err := cfg.LoadOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 5)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeFile(t, "small.yaml", "model:\n  target: class\n")
	cfg, err := Load(path, WithEnvFile(""), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "class", cfg.Model.Target)
	assert.Equal(t, 0.7, cfg.Model.TrainFraction)
	assert.True(t, cfg.Search.Enabled)
	assert.Equal(t, 10, cfg.Search.Folds)
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "")
	cfg, err := Load(path, WithEnvFile(""), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{"unknown section", "modle:\n  target: class\n", "modle"},
		{"fraction out of range", "model:\n  train_fraction: 1.5\n", "train_fraction"},
		{"bad output format", "output:\n  format: html\n", "format"},
		{"bad kind", "data:\n  kinds:\n    a: date\n", "kinds"},
		{"one fold", "search:\n  folds: 1\n", "folds"},
		{"axis without values", "search:\n  grid:\n    - name: cp\n      values: []\n", "values"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.yaml", tt.yaml)
			_, err := Load(path, WithEnvFile(""), envMap(nil))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidParameter(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "broken.yaml", "model: [unclosed\n")
	_, err := Load(path, WithEnvFile(""), envMap(nil))
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), WithEnvFile(""), envMap(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "clfpipe.yaml", fullYAML)
	cfg, err := Load(path, WithEnvFile(""), envMap(map[string]string{
		"CLFPIPE_TARGET":       "risk",
		"CLFPIPE_VARIANT":      "rpart",
		"CLFPIPE_SEED":         "7",
		"CLFPIPE_FEATURES":     "a, b,,c",
		"CLFPIPE_SEARCH":       "false",
		"CLFPIPE_HTTP_TIMEOUT": "1m",
		"CLFPIPE_STORE_PATH":   "/tmp/history.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, "risk", cfg.Model.Target)
	assert.Equal(t, "rpart", cfg.Model.Variant)
	assert.Equal(t, uint64(7), cfg.Model.Seed)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Model.Features)
	assert.False(t, cfg.Search.Enabled)
	assert.Equal(t, time.Minute, cfg.Data.Timeout)
	assert.Equal(t, "/tmp/history.db", cfg.Store.Path)
	// untouched keys keep the file's values
	assert.Equal(t, 5, cfg.Search.Folds)
}

func TestEnvOverrideErrors(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
	}{
		{map[string]string{"CLFPIPE_FOLDS": "ten"}, "CLFPIPE_FOLDS"},
		{map[string]string{"CLFPIPE_SEED": "-1"}, "CLFPIPE_SEED"},
		{map[string]string{"CLFPIPE_HTTP_TIMEOUT": "soon"}, "CLFPIPE_HTTP_TIMEOUT"},
	}
	for _, tt := range tests {
		_, err := Load("", WithEnvFile(""), envMap(tt.env))
		require.Error(t, err, tt.name)
		assert.True(t, errors.IsInvalidParameter(err), tt.name)
		assert.Contains(t, err.Error(), tt.name)
	}
}

func TestSemanticValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"delimited without delimiter", func(c *Config) { c.Data.Format = "delimited" }},
		{"multi-char delimiter", func(c *Config) { c.Data.Format = "delimited"; c.Data.Delimiter = ";;" }},
		{"unknown variant", func(c *Config) { c.Model.Variant = "knn" }},
		{"unknown output format", func(c *Config) { c.Output.Format = "html" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative retries", func(c *Config) { c.Data.Retries = -1 }},
		{"negative workers", func(c *Config) { c.Search.Workers = -2 }},
		{"single fold", func(c *Config) { c.Search.Folds = 1 }},
		{"bad train fraction", func(c *Config) { c.Model.TrainFraction = 0 }},
		{"bad kind", func(c *Config) { c.Data.Kinds = map[string]string{"a": "date"} }},
		{"binarize labels", func(c *Config) {
			c.Data.Binarize = &Binarize{Column: "y", Source: "x", Above: "hi", Below: "hi"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.True(t, errors.IsInvalidParameter(cfg.Validate()))
		})
	}
}

func TestEnvFile(t *testing.T) {
	const key = "CLFPIPE_OUTPUT_PATH"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=report.md\n")
	cfg, err := Load("", WithEnvFile(envFile))
	require.NoError(t, err)
	assert.Equal(t, "report.md", cfg.Output.Path)
}

func TestMissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", WithEnvFile(filepath.Join(t.TempDir(), ".env")), envMap(nil))
	assert.NoError(t, err)
}
