// Package osc provides the OSC-over-UDP control listener. Each listener binds
// one socket, decodes address-pattern messages and dispatches them
// synchronously into the router; handlers are O(1) store writes, so there is
// no application-level queue between the socket and the store.
package osc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avatarbridge/component"
	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/health"
	"github.com/c360/avatarbridge/metric"
	oscwire "github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/pkg/retry"
)

// readDeadline bounds each blocking read so shutdown is noticed promptly
const readDeadline = 100 * time.Millisecond

// DispatchFunc receives each decoded message; source names the listener
type DispatchFunc func(source string, msg *oscwire.Message)

// Metrics holds Prometheus metrics for one listener
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	decodeErrors    prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers listener metrics
func newMetrics(registry *metric.Registry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc",
			Name:      fmt.Sprintf("port_%d_packets_received_total", port),
			Help:      "Total UDP packets received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc",
			Name:      fmt.Sprintf("port_%d_bytes_received_total", port),
			Help:      "Total bytes received",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc",
			Name:      fmt.Sprintf("port_%d_decode_errors_total", port),
			Help:      "Malformed packets dropped",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc",
			Name:      fmt.Sprintf("port_%d_socket_errors_total", port),
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc",
			Name:      fmt.Sprintf("port_%d_last_activity_timestamp", port),
			Help:      "Unix timestamp of last received packet",
		}),
	}

	serviceName := fmt.Sprintf("osc_%d", port)
	_ = registry.RegisterCounter(serviceName, "packets_received", metrics.packetsReceived)
	_ = registry.RegisterCounter(serviceName, "bytes_received", metrics.bytesReceived)
	_ = registry.RegisterCounter(serviceName, "decode_errors", metrics.decodeErrors)
	_ = registry.RegisterCounter(serviceName, "socket_errors", metrics.socketErrors)
	_ = registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// ListenerDeps holds runtime dependencies for a listener
type ListenerDeps struct {
	Name     string // logical listener name ("affect", "action")
	Bind     string
	Port     int
	Dispatch DispatchFunc
	Registry *metric.Registry
	Monitor  *health.Monitor
	Logger   *slog.Logger
}

// Listener receives control datagrams on one fixed UDP port
type Listener struct {
	name     string
	bind     string
	port     int
	dispatch DispatchFunc
	logger   *slog.Logger
	metrics  *Metrics
	monitor  *health.Monitor

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	loopDead  atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	errorCount      atomic.Int64
	lastReadError   atomic.Value // stores string
	lastActivity    atomic.Value // stores time.Time
}

// Ensure Listener implements the lifecycle contract
var _ component.LifecycleComponent = (*Listener)(nil)

// NewListener creates a new OSC listener
func NewListener(deps ListenerDeps) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		name:     deps.Name,
		bind:     deps.Bind,
		port:     deps.Port,
		dispatch: deps.Dispatch,
		logger:   logger.With("component", "osc-listener", "listener", deps.Name, "port", deps.Port),
		metrics:  newMetrics(deps.Registry, deps.Port),
		monitor:  deps.Monitor,
	}
	l.lastActivity.Store(time.Time{})
	return l
}

// Source returns the label dispatched with every decoded message
func (l *Listener) Source() string {
	return fmt.Sprintf("osc-%d", l.port)
}

// Port returns the bound port; useful when configured with port 0
func (l *Listener) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn != nil {
		if addr, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.Port
		}
	}
	return l.port
}

// Initialize validates the listener configuration
func (l *Listener) Initialize() error {
	if l.port < 0 || l.port > 65535 {
		return errors.WrapFatal(
			fmt.Errorf("port %d: %w", l.port, errors.ErrInvalidConfig),
			"osc_listener", "Initialize", "port validation")
	}
	if l.dispatch == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil dispatch: %w", errors.ErrMissingConfig),
			"osc_listener", "Initialize", "dispatch validation")
	}
	return nil
}

// Start binds the socket and launches the read loop. Bind failure is fatal to
// this listener only; the rest of the bridge keeps running.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil
	}

	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})

	if err := retry.Do(ctx, retry.Handshake(), l.bindSocket); err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%v: %w", err, errors.ErrBindFailed),
			"osc_listener", "Start", fmt.Sprintf("bind %s:%d", l.bind, l.port))
	}

	l.running.Store(true)
	l.startTime = time.Now()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		l.readLoop(ctx)
	}()

	l.logger.Info("osc listener started", "bind", l.bind)
	return nil
}

func (l *Listener) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.bind, l.port))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("resolve %s:%d: %w", l.bind, l.port, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on udp port %d: %w", l.port, err)
	}

	l.conn = conn
	return nil
}

// Stop closes the socket; the blocked read returns and the loop exits without
// logging the close as an error.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)

	l.mu.Lock()
	if l.shutdown != nil {
		select {
		case <-l.shutdown:
		default:
			close(l.shutdown)
		}
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"osc_listener", "Stop", "wait for read loop")
	}

	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()

	l.logger.Info("osc listener stopped")
	return nil
}

// readLoop reads datagrams until shutdown. Malformed packets are dropped and
// counted; packets are processed strictly in arrival order.
func (l *Listener) readLoop(ctx context.Context) {
	buf := make([]byte, 65536)

	for l.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-l.shutdown:
				// Intentional close, not an error
				return
			default:
			}

			if l.noteReadError(err) {
				continue
			}
			return
		}

		l.packetsReceived.Add(1)
		l.bytesReceived.Add(int64(n))
		now := time.Now()
		l.lastActivity.Store(now)

		if l.metrics != nil {
			l.metrics.packetsReceived.Inc()
			l.metrics.bytesReceived.Add(float64(n))
			l.metrics.lastActivity.Set(float64(now.Unix()))
		}

		msg, err := oscwire.Decode(buf[:n])
		if err != nil {
			l.errorCount.Add(1)
			if l.metrics != nil {
				l.metrics.decodeErrors.Inc()
			}
			l.logger.Debug("dropped malformed packet", "error", err, "bytes", n)
			continue
		}

		l.dispatch(l.Source(), msg)
	}
}

// noteReadError records a socket read failure. Transient faults keep the loop
// alive; anything else ends it, and a listener whose loop is gone must stop
// reporting healthy.
func (l *Listener) noteReadError(err error) bool {
	l.errorCount.Add(1)
	if l.metrics != nil {
		l.metrics.socketErrors.Inc()
	}

	if errors.IsTransient(err) {
		return true
	}

	l.lastReadError.Store(err.Error())
	l.loopDead.Store(true)
	l.logger.Error("socket read failed, read loop exiting", "error", err)

	if l.monitor != nil {
		l.monitor.UpdateComponent(l.Meta().Name, l.Health())
	}
	return false
}

// Meta returns component metadata
func (l *Listener) Meta() component.Metadata {
	name := l.name
	if name == "" {
		name = fmt.Sprintf("osc-listener-%d", l.port)
	}

	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("OSC control listener on %s:%d", l.bind, l.port),
		Version:     "1.0.0",
	}
}

// Health returns current health status
func (l *Listener) Health() component.HealthStatus {
	l.mu.RLock()
	connected := l.conn != nil
	l.mu.RUnlock()

	var uptime time.Duration
	if l.running.Load() {
		uptime = time.Since(l.startTime)
	}

	lastErr, _ := l.lastReadError.Load().(string)

	return component.HealthStatus{
		Healthy:    l.running.Load() && connected && !l.loopDead.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(l.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (l *Listener) DataFlow() component.FlowMetrics {
	packets := l.packetsReceived.Load()
	bytes := l.bytesReceived.Load()
	errCount := l.errorCount.Load()
	lastActivity, _ := l.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(l.startTime).Seconds(); uptime > 0 && l.running.Load() {
		perSecond = float64(packets) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if packets > 0 {
		errorRate = float64(errCount) / float64(packets)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
