package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avatarbridge/component"
	"github.com/c360/avatarbridge/config"
	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/health"
	"github.com/c360/avatarbridge/metric"
	"github.com/c360/avatarbridge/pkg/retry"
)

// Metrics holds Prometheus metrics shared by all channels
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	sendsDropped      *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	state             *prometheus.GaugeVec
}

// newMetrics creates and registers Manager metrics
func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "channel",
			Name:      "frames_received_total",
			Help:      "Total text frames received per channel",
		}, []string{"channel"}),

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "channel",
			Name:      "frames_sent_total",
			Help:      "Total text frames sent per channel",
		}, []string{"channel"}),

		sendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "channel",
			Name:      "sends_dropped_total",
			Help:      "Total sends dropped while not connected",
		}, []string{"channel"}),

		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "channel",
			Name:      "reconnect_attempts_total",
			Help:      "Total connect attempts that failed",
		}, []string{"channel"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "avatarbridge",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Current channel state (0=disconnected 1=connecting 2=connected 3=errored 4=closed)",
		}, []string{"channel"}),
	}

	_ = registry.RegisterCounterVec(componentName, "frames_received", metrics.framesReceived)
	_ = registry.RegisterCounterVec(componentName, "frames_sent", metrics.framesSent)
	_ = registry.RegisterCounterVec(componentName, "sends_dropped", metrics.sendsDropped)
	_ = registry.RegisterCounterVec(componentName, "reconnect_attempts", metrics.reconnectAttempts)
	_ = registry.RegisterGaugeVec(componentName, "state", metrics.state)

	return metrics
}

// Options configures a Manager
type Options struct {
	// Inbound receives text frames from channels marked inbound
	Inbound Handler
	// OnTransition observes every channel state transition (optional)
	OnTransition TransitionFunc
	Logger       *slog.Logger
	Registry     *metric.Registry
	Monitor      *health.Monitor
}

// Manager owns all persistent channels and their lifecycle. Channels are
// created once at Initialize and never added or removed mid-run.
type Manager struct {
	name     string
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	metrics  *Metrics
	channels map[string]*Channel
	order    []string

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     atomic.Bool
	startTime   time.Time
	lifecycleMu sync.Mutex

	errorCount atomic.Int64
}

// Ensure Manager implements the lifecycle contract
var _ component.LifecycleComponent = (*Manager)(nil)

// NewManager creates a channel manager from configuration
func NewManager(cfg *config.Config, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		name:     "channel-manager",
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With("component", "channel-manager"),
		channels: make(map[string]*Channel),
	}
}

// Initialize validates configuration and builds the channel set
func (m *Manager) Initialize() error {
	if len(m.cfg.Channels) == 0 {
		return errors.WrapFatal(
			fmt.Errorf("no channels configured: %w", errors.ErrMissingConfig),
			"channel_manager", "Initialize", "build channel set")
	}

	m.metrics = newMetrics(m.opts.Registry, m.name)

	dialer := &websocket.Dialer{
		HandshakeTimeout: m.cfg.Reconnect.HandshakeTimeout,
	}

	backoffCfg := retry.Config{
		InitialDelay: m.cfg.Reconnect.InitialDelay,
		MaxDelay:     m.cfg.Reconnect.MaxDelay,
		Multiplier:   m.cfg.Reconnect.Multiplier,
		AddJitter:    true,
	}

	for _, cc := range m.cfg.Channels {
		if err := cc.Validate(); err != nil {
			return err
		}

		var handler Handler
		if cc.Inbound {
			handler = m.opts.Inbound
		}

		ch := newChannel(
			cc.Name,
			m.cfg.ChannelURL(cc),
			cc.Inbound,
			handler,
			dialer,
			retry.NewBackoff(backoffCfg),
			m.logger,
			m.metrics,
			m.observeTransition,
		)
		m.channels[cc.Name] = ch
		m.order = append(m.order, cc.Name)
	}

	return nil
}

// Start launches one connect loop per channel
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"channel_manager", "Start", "check started state")
	}
	if len(m.channels) == 0 {
		return errors.WrapFatal(errors.ErrNotStarted,
			"channel_manager", "Start", "manager not initialized")
	}

	managerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, name := range m.order {
		ch := m.channels[name]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ch.run(managerCtx)
		}()
	}

	m.startTime = time.Now()
	m.started.Store(true)
	m.logger.Info("channel manager started", "channels", len(m.channels))
	return nil
}

// Stop closes every channel and waits up to timeout for the loops to exit
func (m *Manager) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.started.Load() {
		return nil
	}

	for _, ch := range m.channels {
		ch.close()
	}
	m.cancel()

	doneCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"channel_manager", "Stop", "wait for channel loops")
	}

	m.started.Store(false)
	m.logger.Info("channel manager stopped")
	return nil
}

// Send writes one text frame to the named channel. Unknown channel names are
// programming errors; sends while disconnected are dropped by the channel.
func (m *Manager) Send(channel string, payload []byte) error {
	ch, ok := m.channels[channel]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unknown channel %q", channel),
			"channel_manager", "Send", "resolve channel")
	}
	return ch.Send(payload)
}

// Get returns the named channel
func (m *Manager) Get(channel string) (*Channel, bool) {
	ch, ok := m.channels[channel]
	return ch, ok
}

// States returns a snapshot of every channel in configuration order
func (m *Manager) States() []Info {
	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		infos = append(infos, m.channels[name].Snapshot())
	}
	return infos
}

// observeTransition fans a channel transition out to health, logging and the
// caller's observer.
func (m *Manager) observeTransition(channel string, from, to State, cause error) {
	if m.opts.Monitor != nil {
		name := "channel-" + channel
		switch to {
		case StateConnected:
			m.opts.Monitor.UpdateHealthy(name, "connected")
		case StateErrored:
			msg := "connect failed"
			if cause != nil {
				msg = cause.Error()
			}
			m.opts.Monitor.UpdateUnhealthy(name, msg)
		case StateDisconnected:
			m.opts.Monitor.UpdateDegraded(name, "connection lost, reconnecting")
		case StateClosed:
			m.opts.Monitor.UpdateDegraded(name, "closed")
		}
	}

	if cause != nil {
		m.errorCount.Add(1)
	}

	m.logger.Debug("channel state transition",
		"channel", channel, "from", from.String(), "to", to.String())

	if m.opts.OnTransition != nil {
		m.opts.OnTransition(channel, from, to, cause)
	}
}

// Meta returns component metadata
func (m *Manager) Meta() component.Metadata {
	return component.Metadata{
		Name:        m.name,
		Type:        "channel",
		Description: "Persistent WebSocket channel manager",
		Version:     "1.0.0",
	}
}

// Health returns current health status
func (m *Manager) Health() component.HealthStatus {
	connected := 0
	for _, ch := range m.channels {
		if ch.State() == StateConnected {
			connected++
		}
	}

	var uptime time.Duration
	if m.started.Load() {
		uptime = time.Since(m.startTime)
	}

	return component.HealthStatus{
		Healthy:    !m.started.Load() || connected == len(m.channels),
		LastCheck:  time.Now(),
		ErrorCount: int(m.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (m *Manager) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
