// Package telemetry implements the metrics and tracing pipeline: attribute
// providers, the diperiodic exporting metric reader, per-operation
// instruments, a tail-sampling span processor, and the cross-process
// manager that lets worker processes forward samples to the parent.
package telemetry

import "time"

// Default reader cadences, in milliseconds. Collection is deliberately much
// faster than export so gauges keep raw per-second resolution without
// overwhelming the exporter.
const (
	DefaultCollectIntervalMillis = 1000
	DefaultCollectTimeoutMillis  = 10000
	DefaultExportIntervalMillis  = 60000
	DefaultExportTimeoutMillis   = 30000
)

// DefaultManagerAddress is the loopback address the cross-process manager
// listens on.
const DefaultManagerAddress = "127.0.0.1:4315"

// AttributeProviderConfig selects one attribute provider.
type AttributeProviderConfig struct {
	// Type is one of "static", "environment_variables", "host", "process",
	// "thread", "msc_config".
	Type string `mapstructure:"type"`

	// Options holds type-specific settings.
	Options map[string]any `mapstructure:"options"`
}

// ReaderConfig paces the diperiodic metric reader.
type ReaderConfig struct {
	CollectIntervalMillis int64 `mapstructure:"collect_interval_millis"`
	CollectTimeoutMillis  int64 `mapstructure:"collect_interval_timeout"`
	ExportIntervalMillis  int64 `mapstructure:"export_interval_millis"`
	ExportTimeoutMillis   int64 `mapstructure:"export_timeout_millis"`
}

func (c ReaderConfig) collectInterval() time.Duration {
	if c.CollectIntervalMillis <= 0 {
		return DefaultCollectIntervalMillis * time.Millisecond
	}
	return time.Duration(c.CollectIntervalMillis) * time.Millisecond
}

func (c ReaderConfig) collectTimeout() time.Duration {
	if c.CollectTimeoutMillis <= 0 {
		return DefaultCollectTimeoutMillis * time.Millisecond
	}
	return time.Duration(c.CollectTimeoutMillis) * time.Millisecond
}

func (c ReaderConfig) exportInterval() time.Duration {
	if c.ExportIntervalMillis <= 0 {
		return DefaultExportIntervalMillis * time.Millisecond
	}
	return time.Duration(c.ExportIntervalMillis) * time.Millisecond
}

func (c ReaderConfig) exportTimeout() time.Duration {
	if c.ExportTimeoutMillis <= 0 {
		return DefaultExportTimeoutMillis * time.Millisecond
	}
	return time.Duration(c.ExportTimeoutMillis) * time.Millisecond
}

// ExporterConfig selects a metric or span exporter.
type ExporterConfig struct {
	// Type is "console" or "otlp".
	Type string `mapstructure:"type"`

	// Options holds exporter settings; for "otlp", "endpoint" and
	// "insecure" are understood.
	Options map[string]any `mapstructure:"options"`
}

// MetricsConfig is the metrics side of the opentelemetry section.
type MetricsConfig struct {
	Attributes []AttributeProviderConfig `mapstructure:"attributes"`
	Reader     ReaderConfig              `mapstructure:"reader"`
	Exporter   *ExporterConfig           `mapstructure:"exporter"`
}

// TracesConfig is the tracing side of the opentelemetry section.
type TracesConfig struct {
	Exporter *ExporterConfig `mapstructure:"exporter"`

	// TailLatencyThresholdMillis keeps spans slower than this; spans
	// with errors are always kept. Defaults to 1000.
	TailLatencyThresholdMillis int64 `mapstructure:"tail_latency_threshold_millis"`
}

// ManagerConfig locates the cross-process telemetry manager.
type ManagerConfig struct {
	// Address is the loopback TCP address of the manager.
	Address string `mapstructure:"address"`
}

// Config is the opentelemetry section of the msc configuration.
type Config struct {
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Traces  *TracesConfig  `mapstructure:"traces"`
	Manager *ManagerConfig `mapstructure:"manager"`
}
