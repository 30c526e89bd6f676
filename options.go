package simidx

import (
	"log/slog"

	"github.com/hupe1980/simidx/ann"
)

// IndexKind selects the vector index implementation backing a store.
type IndexKind string

const (
	// IndexHNSW selects the hierarchical navigable small world graph index.
	// Search is approximate and sublinear.
	IndexHNSW IndexKind = "hnsw"

	// IndexFlat selects the exact brute-force index. Search is linear in the
	// number of items.
	IndexFlat IndexKind = "flat"
)

type options struct {
	indexKind        IndexKind
	hnswOptFns       []func(o *ann.HNSWOptions)
	flatOptFns       []func(o *ann.FlatOptions)
	maxCapacity      int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures a store.
type Option func(*options)

// WithIndexKind selects the index implementation. The default is IndexHNSW.
func WithIndexKind(kind IndexKind) Option {
	return func(o *options) {
		o.indexKind = kind
	}
}

// WithHNSWOptions customizes the graph index parameters. Only used when the
// index kind is IndexHNSW.
func WithHNSWOptions(optFns ...func(o *ann.HNSWOptions)) Option {
	return func(o *options) {
		o.hnswOptFns = append(o.hnswOptFns, optFns...)
	}
}

// WithFlatOptions customizes the brute-force index parameters. Only used when
// the index kind is IndexFlat.
func WithFlatOptions(optFns ...func(o *ann.FlatOptions)) Option {
	return func(o *options) {
		o.flatOptFns = append(o.flatOptFns, optFns...)
	}
}

// WithMaxCapacity bounds the number of items the store accepts across all
// projects. Zero, the default, means unbounded.
func WithMaxCapacity(n int) Option {
	return func(o *options) {
		o.maxCapacity = n
	}
}

// WithMetricsCollector sets the metrics collector. If collector is nil, the
// default no-op collector is kept.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metricsCollector = collector
		}
	}
}

// WithLogger sets the logger. If logger is nil, the default no-op logger is
// kept.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel is a convenience that installs a text logger writing to stderr
// at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns ...Option) options {
	opts := options{
		indexKind:        IndexHNSW,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	return opts
}
