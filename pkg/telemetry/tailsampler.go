package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/voegtlel/multi-storage-client/internal/logger"
)

// tailSamplingProcessor retains only interesting spans: those whose latency
// exceeds the threshold or that recorded an error. Everything else is
// dropped before export, keeping the exporter volume proportional to the
// tail, not the traffic.
type tailSamplingProcessor struct {
	exporter  sdktrace.SpanExporter
	threshold time.Duration

	mu      sync.Mutex
	pending []sdktrace.ReadOnlySpan
}

const tailSamplerBatchSize = 64

func newTailSamplingProcessor(exporter sdktrace.SpanExporter, threshold time.Duration) *tailSamplingProcessor {
	return &tailSamplingProcessor{exporter: exporter, threshold: threshold}
}

func (p *tailSamplingProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *tailSamplingProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	latency := span.EndTime().Sub(span.StartTime())
	if latency <= p.threshold && span.Status().Code != codes.Error {
		return
	}

	p.mu.Lock()
	p.pending = append(p.pending, span)
	flush := len(p.pending) >= tailSamplerBatchSize
	p.mu.Unlock()

	if flush {
		p.flush(context.Background())
	}
}

func (p *tailSamplingProcessor) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := p.exporter.ExportSpans(ctx, batch); err != nil {
		logger.Debug("telemetry: span export failed: %v", err)
	}
}

func (p *tailSamplingProcessor) ForceFlush(ctx context.Context) error {
	p.flush(ctx)
	return nil
}

func (p *tailSamplingProcessor) Shutdown(ctx context.Context) error {
	p.flush(ctx)
	return p.exporter.Shutdown(ctx)
}
