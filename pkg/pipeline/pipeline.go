// Package pipeline wires one end-to-end run: a sources.Source feeds
// pkg/preprocess, whose PreprocessedData feeds pkg/aggregator, producing
// the final AggregatedResults. Config is loaded from YAML
// (gopkg.in/yaml.v3) and validated with github.com/go-playground/validator
// before any stage runs, the way the teacher validates its config structs
// at startup rather than deep inside business logic (SPEC_FULL §2.3/§3).
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jordigilh/crawlstats/pkg/aggregator"
	"github.com/jordigilh/crawlstats/pkg/analyzers/bias"
	"github.com/jordigilh/crawlstats/pkg/analyzers/discovery"
	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/observability"
	"github.com/jordigilh/crawlstats/pkg/preprocess"
	"github.com/jordigilh/crawlstats/pkg/preprocess/cache"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
	"github.com/jordigilh/crawlstats/pkg/sources"
	sourcefile "github.com/jordigilh/crawlstats/pkg/sources/file"
	sourcehttp "github.com/jordigilh/crawlstats/pkg/sources/http"
	sourcepostgres "github.com/jordigilh/crawlstats/pkg/sources/postgres"
)

// SourceKind selects which sources.Source implementation a Config wires up.
type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourcePostgres SourceKind = "postgres"
	SourceHTTP     SourceKind = "http"
)

// SourceConfig configures whichever SourceKind is selected; only the
// fields relevant to Kind need to be set.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind" validate:"required,oneof=file postgres http"`

	// file
	Path string `yaml:"path" validate:"required_if=Kind file"`

	// postgres
	DSN string `yaml:"dsn" validate:"required_if=Kind postgres"`

	// http
	Endpoint     string `yaml:"endpoint" validate:"required_if=Kind http"`
	TokenURL     string `yaml:"tokenURL" validate:"required_if=Kind http"`
	ClientID     string `yaml:"clientID" validate:"required_if=Kind http"`
	ClientSecret string `yaml:"clientSecret" validate:"required_if=Kind http"`

	// FilterExpr is loaded from YAML but New and Run do not read it; Run
	// applies only the filter expression passed to it as an argument.
	FilterExpr string `yaml:"filterExpr"`
}

// Config is the top-level, YAML-loadable configuration for one pipeline
// run (SPEC_FULL §2.3).
type Config struct {
	Source    SourceConfig     `yaml:"source" validate:"required"`
	Options   types.Options    `yaml:"options"`
	Discovery discovery.Config `yaml:"-"`
	Bias      bias.Thresholds  `yaml:"-"`
}

// DefaultConfig returns a Config with §6's documented option defaults and
// the discovery/bias analyzers' documented tunable defaults.
func DefaultConfig() Config {
	return Config{
		Options:   types.DefaultOptions(),
		Discovery: discovery.DefaultConfig(),
		Bias:      bias.DefaultThresholds(),
	}
}

// LoadConfig reads and validates a Config from a YAML file at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Load("read config %q: %v", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.Load("parse config %q: %v", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errs.Load("validate config %q: %v", path, err)
	}
	return cfg, nil
}

// Pipeline runs one source -> preprocess -> aggregate chain, reusing its
// cache and metrics/tracing across calls.
type Pipeline struct {
	source     sources.Source
	sourceKind SourceKind
	cache      cache.Cache
	agg        *aggregator.Aggregator
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *logrus.Entry
}

// New builds a Pipeline from cfg. logger may be nil; zapLogger is passed
// to the postgres source, which logs with go.uber.org/zap the way the
// teacher's datastorage subsystem does (SPEC_FULL §3).
func New(cfg Config, logger *logrus.Entry, zapLogger *zap.Logger) (*Pipeline, error) {
	src, err := buildSource(cfg.Source, zapLogger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		source:     src,
		sourceKind: cfg.Source.Kind,
		cache:      cache.NewInProcess(),
		agg:        aggregator.New(logger, cfg.Discovery, cfg.Bias),
		metrics:    observability.NewMetrics(),
		tracer:     observability.NewTracer("crawlstats/pipeline"),
		logger:     logger,
	}, nil
}

func buildSource(cfg SourceConfig, zapLogger *zap.Logger) (sources.Source, error) {
	switch cfg.Kind {
	case SourceFile:
		return sourcefile.New(cfg.Path), nil
	case SourcePostgres:
		return sourcepostgres.Open(context.Background(), cfg.DSN, zapLogger)
	case SourceHTTP:
		return sourcehttp.New(sourcehttp.Config{
			Endpoint:     cfg.Endpoint,
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			BreakerName:  "crawlstats-http-source",
		}, nil), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// Run executes one full pipeline pass: load, preprocess, aggregate. A
// deadline or cancellation on ctx is honored at every stage boundary, per
// §5's concurrency contract.
func (p *Pipeline) Run(ctx context.Context, opts types.Options, filterExpr string) (*types.AggregatedResults, error) {
	ctx, span := p.tracer.StartStage(ctx, "pipeline.Run")
	defer span.End()

	var filter *preprocess.Filter
	if filterExpr != "" {
		f, err := preprocess.CompileFilter(filterExpr)
		if err != nil {
			span.RecordError(err)
			return nil, errs.Load("compile filter %q: %v", filterExpr, err)
		}
		filter = f
	}

	key := cache.Key{
		Source:         string(p.sourceKind),
		DateRangeStart: formatDateBound(opts.DateRange.Start),
		DateRangeEnd:   formatDateBound(opts.DateRange.End),
		ForceReload:    opts.ForceReload,
	}
	if !opts.ForceReload {
		if data, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			results, err := p.aggregate(ctx, data, opts)
			if err == nil {
				results.Metadata.FromCache = true
			}
			return results, err
		}
	}

	ctx, loadSpan := p.tracer.StartStage(ctx, "load")
	records, err := p.source.Load(ctx, opts.DateRange)
	if err != nil {
		loadSpan.RecordError(err)
		loadSpan.End()
		return nil, err
	}
	loadSpan.End()

	data, err := preprocess.Preprocess(ctx, records, preprocess.Options{
		DateRange:   opts.DateRange,
		ForceReload: opts.ForceReload,
		Filter:      filter,
	}, p.logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := p.cache.Set(ctx, key, data); err != nil && p.logger != nil {
		p.logger.WithError(err).Warn("pipeline cache set failed")
	}

	return p.aggregate(ctx, data, opts)
}

// ClearCache empties the preprocessor cache backing this Pipeline, so the
// next Run reloads and re-preprocesses from the source regardless of
// ForceReload (§4.1's clearCache()).
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return p.cache.Clear(ctx)
}

func formatDateBound(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func (p *Pipeline) aggregate(ctx context.Context, data *types.PreprocessedData, opts types.Options) (*types.AggregatedResults, error) {
	ctx, span := p.tracer.StartStage(ctx, "aggregate")
	defer span.End()

	results, err := p.agg.Analyze(ctx, data, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordsDropped.WithLabelValues("date_filter").Add(float64(data.FilteringStats.DateFilter))
		p.metrics.RecordsDropped.WithLabelValues("malformed").Add(float64(data.FilteringStats.Malformed))
		p.metrics.RecordsDropped.WithLabelValues("duplicate").Add(float64(data.FilteringStats.Duplicate))
		p.metrics.PatternsEmitted.WithLabelValues("headers").Add(float64(len(results.Headers.Patterns)))
	}
	return results, nil
}
