package telemetry

import (
	"context"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voegtlel/multi-storage-client/internal/logger"
)

// DiperiodicReader collects and exports metrics on two independent periodic
// cadences, in contrast with the SDK's periodic reader which couples them.
//
// A collect daemon polls the instruments every collect interval and appends
// the snapshot to an internal ring; an export daemon flushes the ring every
// export interval. Setting a short collect interval and a long export
// interval yields high-frequency raw gauges without overwhelming the
// exporter. The collect interval bounds the temporal resolution.
type DiperiodicReader struct {
	reader   *sdkmetric.ManualReader
	exporter sdkmetric.Exporter
	cfg      ReaderConfig

	mu   sync.Mutex
	ring []*metricdata.ResourceMetrics

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewDiperiodicReader creates the reader and starts both daemons.
func NewDiperiodicReader(exporter sdkmetric.Exporter, cfg ReaderConfig) *DiperiodicReader {
	d := &DiperiodicReader{
		reader:     sdkmetric.NewManualReader(),
		exporter:   exporter,
		cfg:        cfg,
		shutdownCh: make(chan struct{}),
	}

	d.wg.Add(2)
	go d.collectDaemon()
	go d.exportDaemon()
	return d
}

// Reader returns the SDK reader to attach to a MeterProvider.
func (d *DiperiodicReader) Reader() sdkmetric.Reader {
	return d.reader
}

func (d *DiperiodicReader) collectDaemon() {
	defer d.wg.Done()
	interval := d.cfg.collectInterval()
	for {
		select {
		case <-d.shutdownCh:
			return
		case <-time.After(interval):
			d.collectIteration()
		}
	}
}

func (d *DiperiodicReader) exportDaemon() {
	defer d.wg.Done()
	interval := d.cfg.exportInterval()
	for {
		select {
		case <-d.shutdownCh:
			return
		case <-time.After(interval):
			d.exportIteration()
		}
	}
}

// collectIteration snapshots the instruments into the ring.
func (d *DiperiodicReader) collectIteration() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.collectTimeout())
	defer cancel()

	var rm metricdata.ResourceMetrics
	if err := d.reader.Collect(ctx, &rm); err != nil {
		logger.Debug("telemetry: metric collection failed: %v", err)
		return
	}
	if len(rm.ScopeMetrics) == 0 {
		return
	}

	d.mu.Lock()
	d.ring = append(d.ring, &rm)
	d.mu.Unlock()
}

// exportIteration drains the ring through the exporter.
func (d *DiperiodicReader) exportIteration() {
	d.mu.Lock()
	pending := d.ring
	d.ring = nil
	d.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.exportTimeout())
	defer cancel()

	for _, rm := range pending {
		if err := d.exporter.Export(ctx, rm); err != nil {
			logger.Debug("telemetry: metric export failed: %v", err)
			return
		}
	}
}

// ForceFlush collects and exports immediately.
func (d *DiperiodicReader) ForceFlush(ctx context.Context) error {
	d.collectIteration()
	d.exportIteration()
	return d.exporter.ForceFlush(ctx)
}

// Shutdown stops both daemons, performs a final collect and export, and
// shuts the exporter down.
func (d *DiperiodicReader) Shutdown(ctx context.Context) error {
	var err error
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
		d.wg.Wait()
		d.collectIteration()
		d.exportIteration()
		if readerErr := d.reader.Shutdown(ctx); readerErr != nil {
			err = readerErr
		}
		if exporterErr := d.exporter.Shutdown(ctx); exporterErr != nil && err == nil {
			err = exporterErr
		}
	})
	return err
}
