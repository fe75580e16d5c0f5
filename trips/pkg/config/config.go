package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/malbeclabs/taxilake/trips/pkg/cleaning"
	"github.com/malbeclabs/taxilake/trips/pkg/sink"
	"github.com/malbeclabs/taxilake/utils/pkg/logger"
	"github.com/malbeclabs/taxilake/utils/pkg/retry"
)

// EnvPrefix prefixes every environment override, e.g. TAXI_NULL_THRESHOLD.
const EnvPrefix = "TAXI"

// Config is the pipeline run configuration. Precedence, lowest first:
// built-in defaults, the YAML file, the environment (including .env files),
// command-line flags.
type Config struct {
	Source string `yaml:"source" envconfig:"SOURCE"`
	Target string `yaml:"target" envconfig:"TARGET"`
	// DryRun runs every stage except the sink write; Target may be empty.
	DryRun bool `yaml:"dry_run" envconfig:"DRY_RUN"`

	WriteMode       string `yaml:"write_mode" envconfig:"WRITE_MODE"`
	Migrate         bool   `yaml:"migrate" envconfig:"MIGRATE"`
	SinkConcurrency int    `yaml:"sink_concurrency" envconfig:"SINK_CONCURRENCY"`

	// NullThreshold is nil until set so that an explicit 0 is honoured.
	NullThreshold      *float64 `yaml:"null_threshold" envconfig:"NULL_THRESHOLD"`
	TimestampLayout    string   `yaml:"timestamp_layout" envconfig:"TIMESTAMP_LAYOUT"`
	TimeParserPolicy   string   `yaml:"time_parser_policy" envconfig:"TIME_PARSER_POLICY"`
	Timezone           string   `yaml:"timezone" envconfig:"TIMEZONE"`
	CategoricalColumns []string `yaml:"categorical_columns" envconfig:"CATEGORICAL_COLUMNS"`
	Partitions         int      `yaml:"partitions" envconfig:"PARTITIONS"`

	S3      S3Config      `yaml:"s3" envconfig:"S3"`
	Retry   retry.Config  `yaml:"retry" envconfig:"RETRY"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`

	MetricsTextfile string `yaml:"metrics_textfile" envconfig:"METRICS_TEXTFILE"`

	location *time.Location
}

type S3Config struct {
	Region       string `yaml:"region" envconfig:"REGION"`
	Endpoint     string `yaml:"endpoint" envconfig:"ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" envconfig:"USE_PATH_STYLE"`
}

type LoggingConfig struct {
	Format  string `yaml:"format" envconfig:"FORMAT"`
	Verbose bool   `yaml:"verbose" envconfig:"VERBOSE"`
}

// Load reads the optional YAML file at path, then the given .env files, then
// TAXI_* environment variables. The result is not validated; apply flag
// overrides and call Validate.
func Load(path string, envFiles ...string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and checks every field.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.Target == "" && !c.DryRun {
		return errors.New("target is required unless dry_run is set")
	}

	mode, err := sink.ParseWriteMode(c.WriteMode)
	if err != nil {
		return err
	}
	c.WriteMode = string(mode)
	if c.SinkConcurrency < 0 {
		return fmt.Errorf("sink_concurrency must not be negative, got %d", c.SinkConcurrency)
	}
	if c.SinkConcurrency == 0 {
		c.SinkConcurrency = 4
	}

	if c.NullThreshold == nil {
		t := cleaning.DefaultNullThreshold
		c.NullThreshold = &t
	}
	if t := *c.NullThreshold; t < 0 || t > 1 {
		return fmt.Errorf("null_threshold must be within [0, 1], got %v", t)
	}
	if c.TimestampLayout == "" {
		c.TimestampLayout = cleaning.DefaultTimestampLayout
	}
	switch cleaning.TimeParserPolicy(c.TimeParserPolicy) {
	case "":
		c.TimeParserPolicy = string(cleaning.PolicyLegacy)
	case cleaning.PolicyLegacy, cleaning.PolicyCorrected:
	default:
		return fmt.Errorf("time_parser_policy must be %s or %s, got %q", cleaning.PolicyLegacy, cleaning.PolicyCorrected, c.TimeParserPolicy)
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	if c.CategoricalColumns == nil {
		c.CategoricalColumns = cleaning.DefaultCategoricalColumns
	}
	if c.Partitions < 0 {
		return fmt.Errorf("partitions must not be negative, got %d", c.Partitions)
	}

	def := retry.DefaultConfig()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseBackoff == 0 {
		c.Retry.BaseBackoff = def.BaseBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = def.MaxBackoff
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "":
		c.Logging.Format = logger.FormatText
	case logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %s or %s, got %q", logger.FormatText, logger.FormatJSON, c.Logging.Format)
	}
	return nil
}

// Location is the time zone timestamps are parsed in. Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
