// Package osc re-emits clamped affect floats as OSC datagrams to an external
// face tracker. Mirroring is optional and best effort; a missing tracker only
// costs one dropped datagram per write.
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
	"github.com/c360/avatarbridge/metric"
	oscwire "github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/param"
)

// Metrics holds Prometheus metrics for the mirror sender
type Metrics struct {
	packetsSent prometheus.Counter
	sendErrors  prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc_out",
			Name:      "packets_sent_total",
			Help:      "Total mirrored OSC datagrams sent",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "osc_out",
			Name:      "send_errors_total",
			Help:      "Total mirrored sends that failed",
		}),
	}

	_ = registry.RegisterCounter("osc-out", "packets_sent", metrics.packetsSent)
	_ = registry.RegisterCounter("osc-out", "send_errors", metrics.sendErrors)

	return metrics
}

// SenderDeps holds runtime dependencies for the mirror sender
type SenderDeps struct {
	Host     string
	Port     int
	Store    *param.Store
	Registry *metric.Registry
	Logger   *slog.Logger
}

// Sender mirrors float parameter writes to a UDP OSC endpoint
type Sender struct {
	host    string
	port    int
	store   *param.Store
	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	conn      *net.UDPConn
	running   atomic.Bool
	startTime time.Time
	subscribe sync.Once

	packetsSent atomic.Int64
	errorCount  atomic.Int64
}

var _ component.LifecycleComponent = (*Sender)(nil)

// NewSender creates a mirror sender targeting host:port
func NewSender(deps SenderDeps) *Sender {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		host:    deps.Host,
		port:    deps.Port,
		store:   deps.Store,
		logger:  logger.With("component", "osc-out", "target", fmt.Sprintf("%s:%d", deps.Host, deps.Port)),
		metrics: newMetrics(deps.Registry),
	}
}

// Initialize validates the target configuration
func (s *Sender) Initialize() error {
	if s.host == "" {
		return errors.WrapFatal(errors.ErrMissingConfig,
			"osc_out", "Initialize", "target host")
	}
	if s.port < 1 || s.port > 65535 {
		return errors.WrapFatal(
			fmt.Errorf("port %d: %w", s.port, errors.ErrInvalidConfig),
			"osc_out", "Initialize", "target port")
	}
	if s.store == nil {
		return errors.WrapFatal(errors.ErrMissingConfig,
			"osc_out", "Initialize", "parameter store")
	}
	return nil
}

// Start dials the target and subscribes to float parameter writes. The store
// subscription is permanent; the running flag gates mirroring after Stop.
func (s *Sender) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return errors.WrapFatal(err, "osc_out", "Start", "resolve target")
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return errors.WrapFatal(err, "osc_out", "Start", "dial target")
	}

	s.conn = conn
	s.running.Store(true)
	s.startTime = time.Now()

	s.subscribe.Do(func() {
		s.store.Subscribe(param.Wildcard, s.mirror)
	})

	s.logger.Info("osc mirror started")
	return nil
}

// Stop stops mirroring and closes the socket
func (s *Sender) Stop(time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	s.logger.Info("osc mirror stopped")
	return nil
}

// mirror runs inline on the store write path; a UDP datagram write never
// blocks, which keeps the subscriber contract.
func (s *Sender) mirror(v param.Value) {
	if !s.running.Load() || v.Kind != param.KindFloat {
		return
	}

	packet, err := oscwire.Encode(&oscwire.Message{
		Address: "/avatar/parameters/" + v.Name,
		Args:    []any{v.Float},
	})
	if err != nil {
		s.errorCount.Add(1)
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	if _, err := conn.Write(packet); err != nil {
		s.errorCount.Add(1)
		if s.metrics != nil {
			s.metrics.sendErrors.Inc()
		}
		return
	}

	s.packetsSent.Add(1)
	if s.metrics != nil {
		s.metrics.packetsSent.Inc()
	}
}

// Meta returns component metadata
func (s *Sender) Meta() component.Metadata {
	return component.Metadata{
		Name:        "osc-out",
		Type:        "output",
		Description: fmt.Sprintf("OSC affect mirror to %s:%d", s.host, s.port),
		Version:     "1.0.0",
	}
}

// Health returns current health status
func (s *Sender) Health() component.HealthStatus {
	var uptime time.Duration
	if s.running.Load() {
		uptime = time.Since(s.startTime)
	}

	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (s *Sender) DataFlow() component.FlowMetrics {
	sent := s.packetsSent.Load()

	var perSecond float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 && s.running.Load() {
		perSecond = float64(sent) / uptime
	}

	return component.FlowMetrics{MessagesPerSecond: perSecond}
}
