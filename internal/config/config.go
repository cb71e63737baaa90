// Package config loads clfpipe settings from a YAML file, a .env file and
// CLFPIPE_* environment variables, in increasing order of precedence.
package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
)

//go:embed schema.json
var schemaJSON []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLFPIPE_"

// Config is the complete run configuration.
type Config struct {
	Data   Data   `yaml:"data"`
	Model  Model  `yaml:"model"`
	Search Search `yaml:"search"`
	Output Output `yaml:"output"`
	Store  Store  `yaml:"store"`
	Log    Log    `yaml:"log"`
}

// Data describes where the dataset comes from and how to parse it.
type Data struct {
	Source    string            `yaml:"source"`
	Format    string            `yaml:"format"`
	Delimiter string            `yaml:"delimiter"`
	Kinds     map[string]string `yaml:"kinds"`
	NA        []string          `yaml:"na"`
	Timeout   time.Duration     `yaml:"timeout"`
	Retries   int               `yaml:"retries"`
	DropNA    bool              `yaml:"drop_na"`
	Binarize  *Binarize         `yaml:"binarize"`
}

// Binarize derives a two-level target from a numeric column.
type Binarize struct {
	Column    string  `yaml:"column"`
	Source    string  `yaml:"source"`
	Threshold float64 `yaml:"threshold"`
	Above     string  `yaml:"above"`
	Below     string  `yaml:"below"`
}

// Model selects the target, the features and the classifier.
type Model struct {
	Variant       string             `yaml:"variant"`
	Target        string             `yaml:"target"`
	Features      []string           `yaml:"features"`
	TrainFraction float64            `yaml:"train_fraction"`
	Seed          uint64             `yaml:"seed"`
	Scale         *bool              `yaml:"scale"`
	Criterion     string             `yaml:"criterion"`
	Params        map[string]float64 `yaml:"params"`
}

// Search configures cross-validated grid search.
type Search struct {
	Enabled bool   `yaml:"enabled"`
	Folds   int    `yaml:"folds"`
	Repeats int    `yaml:"repeats"`
	Workers int    `yaml:"workers"`
	Grid    []Axis `yaml:"grid"`
}

// Axis is one named grid axis.
type Axis struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

// Output selects the report format and optional artifacts. Empty paths
// disable the artifact; an empty Path writes the report to stdout.
type Output struct {
	Format        string `yaml:"format"`
	Path          string `yaml:"path"`
	Tree          bool   `yaml:"tree"`
	ConfusionPlot string `yaml:"confusion_plot"`
	SearchPlot    string `yaml:"search_plot"`
	MetricsFile   string `yaml:"metrics_file"`
}

// Store locates the run history database. An empty path disables it.
type Store struct {
	Path string `yaml:"path"`
}

// Log configures the global logger.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	p := pipeline.DefaultConfig()
	return Config{
		Data: Data{
			Format:  string(dataset.FormatCSV),
			Timeout: 30 * time.Second,
		},
		Model: Model{
			Variant:       p.Variant.String(),
			TrainFraction: p.TrainFraction,
			Seed:          p.Seed,
		},
		Search: Search{
			Enabled: p.Search,
			Folds:   p.Folds,
			Repeats: p.Repeats,
		},
		Output: Output{Format: "text"},
		Log:    Log{Level: "info"},
	}
}

type loadOptions struct {
	envFile string
	getenv  func(string) string
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile reads variables from path before applying overrides. A
// missing file is ignored. Variables already set in the environment win.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithGetenv replaces os.Getenv for override lookups.
func WithGetenv(fn func(string) string) Option {
	return func(o *loadOptions) {
		o.getenv = fn
	}
}

// Load builds a Config from Default, the YAML file at path (skipped when
// path is empty), the env file and CLFPIPE_* variables, then validates it.
func Load(path string, opts ...Option) (Config, error) {
	o := &loadOptions{envFile: ".env", getenv: os.Getenv}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "config: read %s", o.envFile)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", path)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: %s", path)
		}
	}

	if err := applyEnv(&cfg, o.getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	log.GetLoggerWithName("config").Debug("Configuration loaded",
		"config.path", path,
		"model.variant", cfg.Model.Variant,
		"model.target", cfg.Model.Target,
	)
	return cfg, nil
}

// Parse checks data against the configuration schema and decodes it into
// cfg. Keys absent from data keep cfg's values.
func Parse(data []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.NewInvalidParameterError("config", "invalid YAML: "+err.Error(), nil)
	}
	if doc == nil {
		return nil
	}
	problems, err := ValidateDocument(doc)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return errors.NewInvalidParameterError("config", strings.Join(problems, "; "), nil)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.NewInvalidParameterError("config", err.Error(), nil)
	}
	return nil
}

// ValidateDocument checks a decoded document against the embedded schema
// and returns one message per violation.
func ValidateDocument(doc any) ([]string, error) {
	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, errors.Wrap(err, "config: schema validation")
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// Validate applies the rules the schema cannot express.
func (c Config) Validate() error {
	format, err := dataset.ParseFormat(c.Data.Format)
	if err != nil {
		return err
	}
	if format == dataset.FormatDelimited && utf8.RuneCountInString(c.Data.Delimiter) != 1 {
		return errors.NewInvalidParameterError("data.delimiter", "must be a single character for the delimited format", c.Data.Delimiter)
	}
	if _, err := c.kinds(); err != nil {
		return err
	}
	if c.Data.Timeout < 0 {
		return errors.NewInvalidParameterError("data.timeout", "must not be negative", c.Data.Timeout.String())
	}
	if c.Data.Retries < 0 {
		return errors.NewInvalidParameterError("data.retries", "must not be negative", c.Data.Retries)
	}
	switch c.Output.Format {
	case "text", "markdown", "json":
	default:
		return errors.NewInvalidParameterError("output.format", "must be text, markdown or json", c.Output.Format)
	}
	if _, err := log.ToLogLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Search.Workers < 0 {
		return errors.NewInvalidParameterError("search.workers", "must not be negative", c.Search.Workers)
	}

	p, err := c.Pipeline()
	if err != nil {
		return err
	}
	// The target may still come from the command line.
	if p.Target == "" {
		p.Target = "-"
	}
	return p.Validate()
}

func (c Config) kinds() (map[string]dataset.Kind, error) {
	out := make(map[string]dataset.Kind, len(c.Data.Kinds))
	for col, k := range c.Data.Kinds {
		kind, err := dataset.ParseKind(k)
		if err != nil {
			return nil, errors.Wrapf(err, "data.kinds.%s", col)
		}
		out[col] = kind
	}
	return out, nil
}

// Pipeline converts the model and search sections to a pipeline.Config.
func (c Config) Pipeline() (pipeline.Config, error) {
	variant, err := pipeline.ParseVariant(c.Model.Variant)
	if err != nil {
		return pipeline.Config{}, err
	}
	p := pipeline.Config{
		Target:        c.Model.Target,
		Features:      append([]string(nil), c.Model.Features...),
		Variant:       variant,
		TrainFraction: c.Model.TrainFraction,
		Seed:          c.Model.Seed,
		Search:        c.Search.Enabled,
		Folds:         c.Search.Folds,
		Repeats:       c.Search.Repeats,
		Workers:       c.Search.Workers,
		Scale:         c.Model.Scale,
		Criterion:     c.Model.Criterion,
		DropNA:        c.Data.DropNA,
	}
	if len(c.Model.Params) > 0 {
		p.Params = make(pipeline.Params, len(c.Model.Params))
		for k, v := range c.Model.Params {
			p.Params[k] = v
		}
	}
	for _, a := range c.Search.Grid {
		p.Grid = append(p.Grid, model_selection.Axis{Name: a.Name, Values: append([]float64(nil), a.Values...)})
	}
	if b := c.Data.Binarize; b != nil {
		p.Binarize = &pipeline.Binarize{
			Column:    b.Column,
			Source:    b.Source,
			Threshold: b.Threshold,
			Above:     b.Above,
			Below:     b.Below,
		}
	}
	return p, nil
}

// LoadOptions converts the data section to dataset.Load options.
func (c Config) LoadOptions() ([]dataset.LoadOption, error) {
	kinds, err := c.kinds()
	if err != nil {
		return nil, err
	}
	opts := []dataset.LoadOption{
		dataset.WithTimeout(c.Data.Timeout),
		dataset.WithRetryCount(c.Data.Retries),
	}
	if len(kinds) > 0 {
		opts = append(opts, dataset.WithKinds(kinds))
	}
	if len(c.Data.NA) > 0 {
		opts = append(opts, dataset.WithNAStrings(c.Data.NA...))
	}
	if r, _ := utf8.DecodeRuneInString(c.Data.Delimiter); r != utf8.RuneError {
		opts = append(opts, dataset.WithDelimiter(r))
	}
	return opts, nil
}

// applyEnv overrides fields from CLFPIPE_* variables. Malformed values are
// InvalidParameter errors naming the variable.
func applyEnv(c *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, set func(string) error) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return errors.NewInvalidParameterError(EnvPrefix+name, err.Error(), v)
		}
		return nil
	}

	str("DATA_SOURCE", &c.Data.Source)
	str("DATA_FORMAT", &c.Data.Format)
	str("DATA_DELIMITER", &c.Data.Delimiter)
	str("TARGET", &c.Model.Target)
	str("VARIANT", &c.Model.Variant)
	str("CRITERION", &c.Model.Criterion)
	str("OUTPUT_FORMAT", &c.Output.Format)
	str("OUTPUT_PATH", &c.Output.Path)
	str("METRICS_FILE", &c.Output.MetricsFile)
	str("STORE_PATH", &c.Store.Path)
	str("LOG_LEVEL", &c.Log.Level)
	if v := getenv(EnvPrefix + "FEATURES"); v != "" {
		c.Model.Features = splitList(v)
	}

	setters := []struct {
		name string
		set  func(string) error
	}{
		{"SEED", func(v string) (err error) { c.Model.Seed, err = strconv.ParseUint(v, 10, 64); return }},
		{"TRAIN_FRACTION", func(v string) (err error) { c.Model.TrainFraction, err = strconv.ParseFloat(v, 64); return }},
		{"SEARCH", func(v string) (err error) { c.Search.Enabled, err = strconv.ParseBool(v); return }},
		{"FOLDS", func(v string) (err error) { c.Search.Folds, err = strconv.Atoi(v); return }},
		{"REPEATS", func(v string) (err error) { c.Search.Repeats, err = strconv.Atoi(v); return }},
		{"WORKERS", func(v string) (err error) { c.Search.Workers, err = strconv.Atoi(v); return }},
		{"DROP_NA", func(v string) (err error) { c.Data.DropNA, err = strconv.ParseBool(v); return }},
		{"HTTP_TIMEOUT", func(v string) (err error) { c.Data.Timeout, err = time.ParseDuration(v); return }},
		{"HTTP_RETRIES", func(v string) (err error) { c.Data.Retries, err = strconv.Atoi(v); return }},
		{"LOG_JSON", func(v string) (err error) { c.Log.JSON, err = strconv.ParseBool(v); return }},
	}
	for _, s := range setters {
		if err := num(s.name, s.set); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
