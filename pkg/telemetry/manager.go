package telemetry

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/voegtlel/multi-storage-client/internal/logger"
)

// The cross-process protocol is a stream of XDR-encoded metricEvent frames
// over loopback TCP. Worker processes spawned by the sync engine (or by
// user code) connect to the parent's manager and forward their operation
// samples; the manager replays them into the parent's recorder, so the
// whole process tree exports through one pipeline.
//
// Event kinds.
const (
	eventOperationStart uint32 = iota
	eventOperationEnd
)

// metricEvent is the wire frame. Latency is carried in nanoseconds.
type metricEvent struct {
	Kind         uint32
	Provider     string
	Operation    string
	Status       string
	LatencyNanos int64
	DataSize     int64
}

// Manager is the parent-process side: a small TCP server whose lifetime
// equals the main process's.
type Manager struct {
	listener net.Listener
	recorder Recorder

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ServeManager binds the manager address and starts accepting worker
// connections. Fails when the address is already bound (typically by the
// parent process; callers then DialProxy instead).
func ServeManager(address string, recorder Recorder) (*Manager, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	m := &Manager{listener: listener, recorder: recorder}
	m.wg.Add(1)
	go m.acceptLoop()
	return m, nil
}

// Addr returns the bound listener address.
func (m *Manager) Addr() string {
	return m.listener.Addr().String()
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.wg.Add(1)
		go m.serveConn(conn)
	}
}

func (m *Manager) serveConn(conn net.Conn) {
	defer m.wg.Done()
	defer conn.Close()

	ctx := context.Background()
	for {
		var event metricEvent
		if _, err := xdr.Unmarshal(conn, &event); err != nil {
			if err != io.EOF {
				logger.Debug("telemetry manager: connection ended: %v", err)
			}
			return
		}

		switch event.Kind {
		case eventOperationStart:
			m.recorder.OperationStart(ctx, event.Provider, event.Operation)
		case eventOperationEnd:
			m.recorder.OperationEnd(ctx, event.Provider, event.Operation, event.Status,
				time.Duration(event.LatencyNanos), event.DataSize)
		default:
			logger.Debug("telemetry manager: dropping unknown event kind %d", event.Kind)
		}
	}
}

// Close stops accepting and waits for in-flight connections.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.listener.Close()
		m.wg.Wait()
	})
	return err
}

// Proxy is the worker-process side: a Recorder that forwards every sample
// to the manager.
type Proxy struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialProxy connects to a running manager.
func DialProxy(address string) (*Proxy, error) {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to reach telemetry manager at %s: %w", address, err)
	}
	return &Proxy{conn: conn}, nil
}

func (p *Proxy) send(event *metricEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	if _, err := xdr.Marshal(p.conn, event); err != nil {
		logger.Debug("telemetry proxy: dropping sample: %v", err)
	}
}

// OperationStart forwards a start event.
func (p *Proxy) OperationStart(_ context.Context, provider, operation string) {
	p.send(&metricEvent{
		Kind:      eventOperationStart,
		Provider:  provider,
		Operation: operation,
	})
}

// OperationEnd forwards an end event.
func (p *Proxy) OperationEnd(_ context.Context, provider, operation, status string, latency time.Duration, dataSize int64) {
	p.send(&metricEvent{
		Kind:         eventOperationEnd,
		Provider:     provider,
		Operation:    operation,
		Status:       status,
		LatencyNanos: latency.Nanoseconds(),
		DataSize:     dataSize,
	})
}

// Close tears the connection down.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
