package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/taxilake/trips/pkg/cleaning"
	"github.com/malbeclabs/taxilake/trips/pkg/config"
	"github.com/malbeclabs/taxilake/trips/pkg/ingest"
	"github.com/malbeclabs/taxilake/trips/pkg/metrics"
	"github.com/malbeclabs/taxilake/trips/pkg/objectstore"
	"github.com/malbeclabs/taxilake/trips/pkg/pipeline"
	"github.com/malbeclabs/taxilake/trips/pkg/postgres"
	"github.com/malbeclabs/taxilake/trips/pkg/sink"
	"github.com/malbeclabs/taxilake/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "Path to a YAML config file (optional)")
	envFileFlag := flag.String("env-file", ".env", "Path to a .env file loaded into the environment if present")
	sourceFlag := flag.String("source", "", "Raw trips CSV: local path or s3://bucket/key (or set TAXI_SOURCE env var)")
	targetFlag := flag.String("target", "", "Aggregate sink: directory, s3://bucket/prefix, clickhouse://... or postgres://... (or set TAXI_TARGET env var)")
	writeModeFlag := flag.String("write-mode", "", "Sink write mode: overwrite or append (default overwrite)")
	dryRunFlag := flag.Bool("dry-run", false, "Run every stage except the sink write")
	migrateFlag := flag.Bool("migrate", false, "Run ClickHouse or PostgreSQL migrations before writing to a database target")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse migrations using goose before writing (clickhouse:// targets)")
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "Run PostgreSQL migrations using goose before writing (postgres:// targets)")
	sinkConcurrencyFlag := flag.Int("sink-concurrency", 0, "Maximum tables written at once (default 4)")

	nullThresholdFlag := flag.Float64("null-threshold", cleaning.DefaultNullThreshold, "Drop columns whose null fraction exceeds this value")
	timestampLayoutFlag := flag.String("timestamp-layout", cleaning.DefaultTimestampLayout, "Go reference layout of the pickup and dropoff columns")
	timeParserPolicyFlag := flag.String("time-parser-policy", string(cleaning.PolicyLegacy), "Timestamp parsing: legacy or corrected")
	timezoneFlag := flag.String("timezone", "UTC", "IANA time zone the timestamps are recorded in")
	categoricalFlag := flag.StringSlice("categorical-columns", nil, "Text columns to upper-case (default Payment_Type)")
	partitionsFlag := flag.Int("partitions", 0, "Row partitions per stage (0 = GOMAXPROCS)")

	s3RegionFlag := flag.String("s3-region", "", "AWS region for s3:// sources and targets")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3 endpoint override, e.g. for MinIO")
	s3PathStyleFlag := flag.Bool("s3-path-style", false, "Use path-style S3 addressing")

	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", logger.FormatText, "Log format: text or json")
	metricsTextfileFlag := flag.String("metrics-textfile", "", "Write run metrics in the Prometheus text format to this path")
	versionFlag := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("trips-pipeline %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(*configFlag, *envFileFlag)
	if err != nil {
		return err
	}

	// Flags explicitly set on the command line override file and environment.
	changed := flag.CommandLine.Changed
	if changed("source") {
		cfg.Source = *sourceFlag
	}
	if changed("target") {
		cfg.Target = *targetFlag
	}
	if changed("write-mode") {
		cfg.WriteMode = *writeModeFlag
	}
	if changed("dry-run") {
		cfg.DryRun = *dryRunFlag
	}
	if changed("migrate") {
		cfg.Migrate = *migrateFlag
	}
	if *clickhouseMigrateFlag || *postgresMigrateFlag {
		if !strings.HasPrefix(cfg.Target, "clickhouse://") && *clickhouseMigrateFlag {
			return fmt.Errorf("--clickhouse-migrate requires a clickhouse:// target")
		}
		if !postgres.IsURI(cfg.Target) && *postgresMigrateFlag {
			return fmt.Errorf("--postgres-migrate requires a postgres:// target")
		}
		cfg.Migrate = true
	}
	if changed("sink-concurrency") {
		cfg.SinkConcurrency = *sinkConcurrencyFlag
	}
	if changed("null-threshold") {
		cfg.NullThreshold = nullThresholdFlag
	}
	if changed("timestamp-layout") {
		cfg.TimestampLayout = *timestampLayoutFlag
	}
	if changed("time-parser-policy") {
		cfg.TimeParserPolicy = *timeParserPolicyFlag
	}
	if changed("timezone") {
		cfg.Timezone = *timezoneFlag
	}
	if changed("categorical-columns") {
		cfg.CategoricalColumns = *categoricalFlag
	}
	if changed("partitions") {
		cfg.Partitions = *partitionsFlag
	}
	if changed("s3-region") {
		cfg.S3.Region = *s3RegionFlag
	}
	if changed("s3-endpoint") {
		cfg.S3.Endpoint = *s3EndpointFlag
	}
	if changed("s3-path-style") {
		cfg.S3.UsePathStyle = *s3PathStyleFlag
	}
	if changed("verbose") {
		cfg.Logging.Verbose = *verboseFlag
	}
	if changed("log-format") {
		cfg.Logging.Format = *logFormatFlag
	}
	if changed("metrics-textfile") {
		cfg.MetricsTextfile = *metricsTextfileFlag
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewWithFormat(os.Stdout, cfg.Logging.Format, cfg.Logging.Verbose)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store *objectstore.Store
	if objectstore.IsURI(cfg.Source) || objectstore.IsURI(cfg.Target) {
		store, err = objectstore.NewStore(ctx, objectstore.Config{
			Logger:       log,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
	}

	loader, err := ingest.NewLoader(ingest.Config{Logger: log, Store: store})
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:             log,
		NullThreshold:      cfg.NullThreshold,
		TimestampLayout:    cfg.TimestampLayout,
		TimeParserPolicy:   cleaning.TimeParserPolicy(cfg.TimeParserPolicy),
		Location:           cfg.Location(),
		CategoricalColumns: cfg.CategoricalColumns,
		Partitions:         cfg.Partitions,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	var s sink.Sink
	if !cfg.DryRun {
		s, err = sink.Open(ctx, sink.Config{
			Logger:          log,
			Target:          cfg.Target,
			Mode:            sink.WriteMode(cfg.WriteMode),
			Store:           store,
			TimestampLayout: cfg.TimestampLayout,
			Migrate:         cfg.Migrate,
		})
		if err != nil {
			return fmt.Errorf("failed to open sink: %w", err)
		}
		defer func() {
			if err := s.Close(); err != nil {
				log.Error("failed to close sink", "error", err)
			}
		}()
	}

	log.Info("starting trips pipeline",
		"version", version,
		"source", cfg.Source,
		"target", redactTarget(cfg.Target),
		"dry_run", cfg.DryRun,
		"null_threshold", *cfg.NullThreshold,
		"time_parser_policy", cfg.TimeParserPolicy,
		"timezone", cfg.Timezone,
	)

	res, runErr := p.Run(ctx, loader, cfg.Source, s, sink.WriteConfig{
		Logger:      log,
		Concurrency: cfg.SinkConcurrency,
		Retry:       cfg.Retry,
	})

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteToTextfile(cfg.MetricsTextfile); err != nil {
			log.Error("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	for _, st := range res.Stages {
		log.Debug("stage summary", "stage", st.Name, "rows_in", st.RowsIn, "rows_out", st.RowsOut, "duration", st.Duration)
	}
	return nil
}

// redactTarget hides credentials embedded in database URIs.
func redactTarget(target string) string {
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok {
		return target
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return target
	}
	return scheme + "://***@" + rest[at+1:]
}
