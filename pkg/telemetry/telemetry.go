package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Telemetry owns the metrics and tracing pipeline of one process. The first
// initialization in the main process may also bind the cross-process
// manager; worker processes connect to it and forward their samples.
type Telemetry struct {
	recorder       Recorder
	diperiodic     *DiperiodicReader
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	manager        *Manager
	proxy          *Proxy
}

// New assembles the telemetry pipeline from configuration. profiles carries
// the configured profile names for the msc_config attribute provider. A nil
// config yields a disabled pipeline with a no-op recorder.
func New(ctx context.Context, cfg *Config, profiles []string) (*Telemetry, error) {
	t := &Telemetry{recorder: NopRecorder{}}
	if cfg == nil {
		return t, nil
	}

	if cfg.Metrics != nil {
		if err := t.initMetrics(ctx, cfg, profiles); err != nil {
			return nil, err
		}
	}
	if cfg.Traces != nil {
		if err := t.initTraces(ctx, cfg.Traces); err != nil {
			return nil, err
		}
	}
	if cfg.Manager != nil {
		if err := t.initManager(cfg.Manager); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Telemetry) initMetrics(ctx context.Context, cfg *Config, profiles []string) error {
	exporter, err := newMetricExporter(ctx, cfg.Metrics.Exporter)
	if err != nil {
		return err
	}

	providers := make([]AttributeProvider, 0, len(cfg.Metrics.Attributes))
	for _, attrCfg := range cfg.Metrics.Attributes {
		provider, err := newAttributeProvider(attrCfg, profiles)
		if err != nil {
			return err
		}
		providers = append(providers, provider)
	}
	baseAttrs := mergeAttributes(providers)

	t.diperiodic = NewDiperiodicReader(exporter, cfg.Metrics.Reader)
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(t.diperiodic.Reader()),
		sdkmetric.WithResource(resource.Empty()),
	)

	recorder, err := newMeterRecorder(t.meterProvider.Meter(meterName), baseAttrs)
	if err != nil {
		return err
	}
	t.recorder = recorder
	return nil
}

func (t *Telemetry) initTraces(ctx context.Context, cfg *TracesConfig) error {
	exporter, err := newSpanExporter(ctx, cfg.Exporter)
	if err != nil {
		return err
	}

	threshold := time.Duration(cfg.TailLatencyThresholdMillis) * time.Millisecond
	if threshold <= 0 {
		threshold = time.Second
	}

	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(newTailSamplingProcessor(exporter, threshold)),
	)
	return nil
}

// initManager binds the cross-process manager, or connects to an already
// running one and forwards samples there instead of recording locally.
func (t *Telemetry) initManager(cfg *ManagerConfig) error {
	address := cfg.Address
	if address == "" {
		address = DefaultManagerAddress
	}

	manager, err := ServeManager(address, t.recorder)
	if err == nil {
		t.manager = manager
		logger.Debug("telemetry manager listening on %s", address)
		return nil
	}

	proxy, dialErr := DialProxy(address)
	if dialErr != nil {
		return fmt.Errorf("telemetry manager: bind failed (%v) and dial failed: %w", err, dialErr)
	}
	t.proxy = proxy
	t.recorder = proxy
	logger.Debug("telemetry samples forwarded to manager at %s", address)
	return nil
}

// Recorder returns the operation sample sink. Never nil.
func (t *Telemetry) Recorder() Recorder {
	return t.recorder
}

// Tracer returns a tracer when tracing is configured, or nil.
func (t *Telemetry) Tracer() trace.Tracer {
	if t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Tracer(meterName)
}

// Shutdown flushes and stops the pipeline. The manager, whose lifetime
// equals the main process's, is closed last.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var firstErr error
	if t.proxy != nil {
		if err := t.proxy.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.diperiodic != nil {
		if err := t.diperiodic.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.manager != nil {
		if err := t.manager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newMetricExporter(ctx context.Context, cfg *ExporterConfig) (sdkmetric.Exporter, error) {
	if cfg == nil {
		return stdoutmetric.New()
	}
	switch cfg.Type {
	case "", "console":
		return stdoutmetric.New()
	case "otlp":
		opts := []otlpmetricgrpc.Option{}
		if endpoint, ok := cfg.Options["endpoint"].(string); ok && endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		if insecure, ok := cfg.Options["insecure"].(bool); ok && insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown metric exporter type %q", types.ErrInvalidArgument, cfg.Type)
	}
}

func newSpanExporter(ctx context.Context, cfg *ExporterConfig) (sdktrace.SpanExporter, error) {
	if cfg == nil {
		return stdouttrace.New()
	}
	switch cfg.Type {
	case "", "console":
		return stdouttrace.New()
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if endpoint, ok := cfg.Options["endpoint"].(string); ok && endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		if insecure, ok := cfg.Options["insecure"].(bool); ok && insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown span exporter type %q", types.ErrInvalidArgument, cfg.Type)
	}
}
