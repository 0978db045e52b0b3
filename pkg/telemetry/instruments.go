package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voegtlel/multi-storage-client/internal/logger"
)

const meterName = "multistorageclient"

// Operation statuses. Errors carry their kind: "error.not_found",
// "error.unavailable", and so on.
const (
	StatusSuccess     = "success"
	StatusErrorPrefix = "error."
)

// Recorder receives one sample pair per storage operation: OperationStart
// before the provider call, OperationEnd after it. Exactly one start
// precedes exactly one end for every operation.
type Recorder interface {
	// OperationStart increments request.sum.
	OperationStart(ctx context.Context, provider, operation string)

	// OperationEnd increments response.sum with the final status and
	// records the latency, data size, and data rate gauges. dataSize is 0
	// for operations that move no body bytes.
	OperationEnd(ctx context.Context, provider, operation, status string, latency time.Duration, dataSize int64)
}

// NopRecorder drops all samples. It stands in whenever telemetry is not
// configured.
type NopRecorder struct{}

func (NopRecorder) OperationStart(context.Context, string, string) {}

func (NopRecorder) OperationEnd(context.Context, string, string, string, time.Duration, int64) {}

// meterRecorder feeds the OTel instruments.
type meterRecorder struct {
	baseAttrs []attribute.KeyValue

	latency     metric.Float64Gauge
	dataSize    metric.Int64Gauge
	dataRate    metric.Float64Gauge
	requestSum  metric.Int64Counter
	responseSum metric.Int64Counter
	dataSizeSum metric.Int64Counter
}

func newMeterRecorder(meter metric.Meter, baseAttrs []attribute.KeyValue) (*meterRecorder, error) {
	r := &meterRecorder{baseAttrs: baseAttrs}

	var err error
	if r.latency, err = meter.Float64Gauge(meterName+".latency", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.dataSize, err = meter.Int64Gauge(meterName+".data_size", metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if r.dataRate, err = meter.Float64Gauge(meterName+".data_rate", metric.WithUnit("By/s")); err != nil {
		return nil, err
	}
	if r.requestSum, err = meter.Int64Counter(meterName+".request.sum", metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if r.responseSum, err = meter.Int64Counter(meterName+".response.sum", metric.WithUnit("{response}")); err != nil {
		return nil, err
	}
	if r.dataSizeSum, err = meter.Int64Counter(meterName+".data_size.sum", metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *meterRecorder) attrs(provider, operation string, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(r.baseAttrs)+2+len(extra))
	attrs = append(attrs, r.baseAttrs...)
	attrs = append(attrs,
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)
	attrs = append(attrs, extra...)
	return metric.WithAttributes(attrs...)
}

func (r *meterRecorder) OperationStart(ctx context.Context, provider, operation string) {
	r.requestSum.Add(ctx, 1, r.attrs(provider, operation))
}

func (r *meterRecorder) OperationEnd(ctx context.Context, provider, operation, status string, latency time.Duration, dataSize int64) {
	statusAttr := attribute.String("status", status)
	opts := r.attrs(provider, operation, statusAttr)

	r.responseSum.Add(ctx, 1, opts)

	seconds := latency.Seconds()
	r.latency.Record(ctx, seconds, opts)

	if dataSize > 0 {
		r.dataSize.Record(ctx, dataSize, opts)
		r.dataSizeSum.Add(ctx, dataSize, opts)
		if seconds > 0 {
			r.dataRate.Record(ctx, float64(dataSize)/seconds, opts)
		}
	}

	if status != StatusSuccess {
		logger.Debug("telemetry: %s.%s finished with status %s", provider, operation, status)
	}
}
