package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
)

// Format is the dataset format tag.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatTSV       Format = "tsv"
	FormatDelimited Format = "delimited"
)

// ParseFormat validates a format tag. The empty string means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatTSV:
		return FormatTSV, nil
	case FormatDelimited:
		return FormatDelimited, nil
	}
	return "", errors.NewInvalidParameterError("format", "must be csv, tsv or delimited", s)
}

type loadConfig struct {
	delimiter  rune
	kinds      map[string]Kind
	naStrings  map[string]bool
	timeout    time.Duration
	retryCount int
	client     *resty.Client
	logger     log.Logger
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

// WithDelimiter sets the field delimiter for FormatDelimited.
func WithDelimiter(d rune) LoadOption {
	return func(c *loadConfig) {
		c.delimiter = d
	}
}

// WithKinds forces the kind of the named columns instead of inferring it.
func WithKinds(kinds map[string]Kind) LoadOption {
	return func(c *loadConfig) {
		for k, v := range kinds {
			c.kinds[k] = v
		}
	}
}

// WithNAStrings sets the cell values treated as missing (default "" and "NA").
func WithNAStrings(na ...string) LoadOption {
	return func(c *loadConfig) {
		c.naStrings = make(map[string]bool, len(na))
		for _, s := range na {
			c.naStrings[s] = true
		}
	}
}

// WithTimeout sets the HTTP timeout for remote sources.
func WithTimeout(d time.Duration) LoadOption {
	return func(c *loadConfig) {
		c.timeout = d
	}
}

// WithRetryCount sets the number of HTTP retries for remote sources.
func WithRetryCount(n int) LoadOption {
	return func(c *loadConfig) {
		c.retryCount = n
	}
}

// WithHTTPClient replaces the resty client used for remote sources.
func WithHTTPClient(client *resty.Client) LoadOption {
	return func(c *loadConfig) {
		c.client = client
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(l log.Logger) LoadOption {
	return func(c *loadConfig) {
		c.logger = l
	}
}

// Load reads a delimited text table with a header row from a local path or
// an http(s) URL. Column kinds are inferred (numeric when every non-missing
// cell parses as a number, categorical otherwise) unless forced with
// WithKinds. Every failure is a LoadError.
func Load(ctx context.Context, source string, format Format, opts ...LoadOption) (*Dataset, error) {
	cfg := &loadConfig{
		kinds:     make(map[string]Kind),
		naStrings: map[string]bool{"": true, NALevel: true},
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetLoggerWithName("dataset")
	}

	delim, err := delimiterFor(format, cfg.delimiter)
	if err != nil {
		return nil, errors.NewLoadError(source, 0, "unsupported format", err)
	}

	start := time.Now()
	body, err := fetch(ctx, source, cfg)
	if err != nil {
		return nil, err
	}

	ds, err := Parse(bytes.NewReader(body), source, delim, cfg.kinds, cfg.naStrings)
	if err != nil {
		return nil, err
	}

	cfg.logger.Info("Dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.SourceKey, source,
		log.SamplesKey, ds.NRows(),
		log.FeaturesKey, ds.Schema().Len(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return ds, nil
}

func delimiterFor(format Format, delim rune) (rune, error) {
	switch format {
	case "", FormatCSV:
		return ',', nil
	case FormatTSV:
		return '\t', nil
	case FormatDelimited:
		if delim == 0 {
			return 0, errors.NewInvalidParameterError("delimiter", "required for the delimited format", "")
		}
		return delim, nil
	}
	return 0, errors.NewInvalidParameterError("format", "must be csv, tsv or delimited", string(format))
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func fetch(ctx context.Context, source string, cfg *loadConfig) ([]byte, error) {
	if !isRemote(source) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, errors.NewLoadError(source, 0, "cannot read file", err)
		}
		return data, nil
	}

	client := cfg.client
	if client == nil {
		client = resty.New()
		client.SetTimeout(cfg.timeout)
		client.SetRetryCount(cfg.retryCount)
		client.SetRetryWaitTime(time.Second)
	}

	resp, err := client.R().SetContext(ctx).Get(source)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.NewLoadError(source, 0, "fetch failed", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, errors.NewLoadError(source, 0, fmt.Sprintf("server returned status %d", resp.StatusCode()), nil)
	}
	return resp.Body(), nil
}

// Parse reads a delimited table from r. source is only used in error messages.
// kinds forces column kinds; naStrings lists missing-value markers.
func Parse(r io.Reader, source string, delim rune, kinds map[string]Kind, naStrings map[string]bool) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewLoadError(source, 0, "empty input", nil)
	}
	if err != nil {
		return nil, parseLoadError(source, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for name := range kinds {
		if !contains(header, name) {
			return nil, errors.NewLoadError(source, 1, fmt.Sprintf("forced column %q not in header", name), nil)
		}
	}

	cells := make([][]string, len(header))
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseLoadError(source, err)
		}
		for j, v := range rec {
			cells[j] = append(cells[j], strings.TrimSpace(v))
		}
	}
	if len(cells[0]) == 0 {
		return nil, errors.NewLoadError(source, 0, "no data rows", nil)
	}

	cols := make([]ColumnData, len(header))
	for j, name := range header {
		kind, forced := kinds[name]
		if !forced {
			kind = inferKind(cells[j], naStrings)
		}
		col, err := buildColumn(source, name, kind, cells[j], naStrings)
		if err != nil {
			return nil, err
		}
		cols[j] = col
	}
	ds, err := New(cols...)
	if err != nil {
		return nil, errors.NewLoadError(source, 1, "invalid header", err)
	}
	return ds, nil
}

func parseLoadError(source string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		reason := pe.Err.Error()
		if errors.Is(pe.Err, csv.ErrFieldCount) {
			reason = "ragged row: field count differs from header"
		}
		return errors.NewLoadError(source, pe.Line, reason, nil)
	}
	return errors.NewLoadError(source, 0, "read failed", err)
}

func inferKind(values []string, na map[string]bool) Kind {
	seen := false
	for _, v := range values {
		if na[v] {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return Categorical
		}
		seen = true
	}
	if !seen {
		return Categorical
	}
	return Numeric
}

func buildColumn(source, name string, kind Kind, values []string, na map[string]bool) (ColumnData, error) {
	switch kind {
	case Numeric:
		nums := make([]float64, len(values))
		for i, v := range values {
			if na[v] {
				nums[i] = math.NaN()
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				// +2: header line plus 1-based numbering
				return ColumnData{}, errors.NewLoadError(source, i+2, fmt.Sprintf("column %q: %q is not numeric", name, v), nil)
			}
			nums[i] = f
		}
		return ColumnData{Column: Column{Name: name, Kind: Numeric}, nums: nums}, nil
	case Categorical:
		strs := make([]string, len(values))
		for i, v := range values {
			if na[v] {
				v = NALevel
			}
			strs[i] = v
		}
		return ColumnData{Column: Column{Name: name, Kind: Categorical}, strs: strs}, nil
	default:
		return TextColumn(name, values), nil
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
