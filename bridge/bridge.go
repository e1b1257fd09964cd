// Package bridge owns and wires every component of the event bridge: the
// parameter store, the router, the channel manager, the OSC listeners, the
// optional affect mirror and events publisher, and the metrics server. Start
// brings components up in dependency order; Stop tears them down in reverse,
// so no store write can happen after shutdown completes.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/avatarbridge/channel"
	"github.com/c360/avatarbridge/config"
	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/events"
	"github.com/c360/avatarbridge/health"
	inputosc "github.com/c360/avatarbridge/input/osc"
	"github.com/c360/avatarbridge/metric"
	outputosc "github.com/c360/avatarbridge/output/osc"
	"github.com/c360/avatarbridge/param"
	"github.com/c360/avatarbridge/router"
)

// Options lets the embedding process hook into bridge events. All fields are
// optional.
type Options struct {
	// Transcript receives transcript text from the transcript channel
	Transcript func(text string)
	// UIEvent receives inbound UI payloads
	UIEvent func(payload json.RawMessage)
	// OnTrigger receives deduplicated action edges
	OnTrigger func(trigger router.ActionTrigger)
	Logger    *slog.Logger
}

// Snapshot is the read-only diagnostics view of the whole bridge
type Snapshot struct {
	Uptime      time.Duration          `json:"uptime"`
	Healthy     bool                   `json:"healthy"`
	Channels    []channel.Info         `json:"channels"`
	Parameters  map[string]param.Value `json:"parameters"`
	Diagnostics router.Diagnostics     `json:"diagnostics"`
}

// Bridge wires the event bridge together and drives its lifecycle
type Bridge struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registry *metric.Registry
	monitor  *health.Monitor
	store    *param.Store
	router   *router.Router
	manager  *channel.Manager

	listeners []*inputosc.Listener
	mirror    *outputosc.Sender
	publisher *events.Publisher
	metricsrv *metric.Server

	mu        sync.Mutex
	started   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup
}

// New builds a bridge from validated configuration. Components are
// constructed and wired here; nothing touches the network until Start.
func New(cfg *config.Config, opts Options) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With("component", "bridge"),
		monitor: health.NewMonitor(),
		store:   param.NewStore(logger.With("component", "param-store")),
	}

	if cfg.Metrics.Enabled {
		b.registry = metric.NewRegistry()
		b.metricsrv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, b.registry, b.monitor)
	}

	b.router = router.New(b.store, nil, router.Options{
		Transcript: opts.Transcript,
		UIEvent:    opts.UIEvent,
		OnTrigger:  b.onTrigger,
		Logger:     logger,
		Registry:   b.registry,
	})

	b.manager = channel.NewManager(cfg, channel.Options{
		Inbound:      b.router.HandleFrame,
		OnTransition: b.onTransition,
		Logger:       logger,
		Registry:     b.registry,
		Monitor:      b.monitor,
	})
	b.router.SetSender(b.manager)

	for _, lc := range cfg.Listeners {
		b.listeners = append(b.listeners, inputosc.NewListener(inputosc.ListenerDeps{
			Name:     lc.Name,
			Bind:     lc.Bind,
			Port:     lc.Port,
			Dispatch: b.router.HandleOSC,
			Registry: b.registry,
			Monitor:  b.monitor,
			Logger:   logger,
		}))
	}

	if cfg.OSCOut != nil {
		b.mirror = outputosc.NewSender(outputosc.SenderDeps{
			Host:     cfg.OSCOut.Host,
			Port:     cfg.OSCOut.Port,
			Store:    b.store,
			Registry: b.registry,
			Logger:   logger,
		})
	}

	// Parameter writes fan out to the events publisher; the publisher is
	// nil until NATS connects and every publish is nil-safe.
	b.store.Subscribe(param.Wildcard, func(v param.Value) {
		b.publisher.PublishParam(v)
	})

	return b, nil
}

// Store returns the parameter store for frame-rate consumers
func (b *Bridge) Store() *param.Store { return b.store }

// Router returns the event router (outbound UI sends, PAD mapping)
func (b *Bridge) Router() *router.Router { return b.router }

// Monitor returns the health monitor
func (b *Bridge) Monitor() *health.Monitor { return b.monitor }

// Start brings the bridge up: events publisher, channels, mirror, listeners,
// metrics server. A listener that fails to bind is reported and skipped; the
// rest of the bridge keeps running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "bridge", "Start", "check started state")
	}

	if b.cfg.NATS != nil {
		pub, err := events.Connect(b.cfg.NATS.URL, b.cfg.NATS.SubjectPrefix, b.logger)
		if err != nil {
			// Events are observability only; the bridge runs without them
			b.logger.Warn("events publisher unavailable", "error", err)
		} else {
			b.publisher = pub
		}
	}

	if err := b.manager.Initialize(); err != nil {
		return err
	}
	if err := b.manager.Start(ctx); err != nil {
		return err
	}

	if b.mirror != nil {
		if err := b.mirror.Initialize(); err != nil {
			return err
		}
		if err := b.mirror.Start(ctx); err != nil {
			return err
		}
	}

	for _, l := range b.listeners {
		if err := l.Initialize(); err != nil {
			b.reportListenerFailure(l, err)
			continue
		}
		if err := l.Start(ctx); err != nil {
			b.reportListenerFailure(l, err)
			continue
		}
		b.monitor.UpdateHealthy(l.Meta().Name, "listening")
	}

	if b.metricsrv != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.metricsrv.Start(); err != nil {
				b.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	b.startTime = time.Now()
	b.started.Store(true)
	b.logger.Info("bridge started",
		"listeners", len(b.listeners), "channels", len(b.cfg.Channels))
	return nil
}

// Stop tears the bridge down in reverse order of Start. Once it returns, no
// component writes to the parameter store.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started.Load() {
		return nil
	}

	deadline := time.Now().Add(timeout)
	var firstErr error

	// Writers first: listeners, then channels
	for _, l := range b.listeners {
		if err := l.Stop(time.Until(deadline)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.manager.Stop(time.Until(deadline)); err != nil && firstErr == nil {
		firstErr = err
	}

	if b.mirror != nil {
		if err := b.mirror.Stop(time.Until(deadline)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if b.metricsrv != nil {
		if err := b.metricsrv.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.wg.Wait()
	}

	b.publisher.Close()

	b.started.Store(false)
	b.logger.Info("bridge stopped")
	return firstErr
}

// Diagnostics returns the aggregated read-only snapshot
func (b *Bridge) Diagnostics() Snapshot {
	var uptime time.Duration
	if b.started.Load() {
		uptime = time.Since(b.startTime)
	}

	return Snapshot{
		Uptime:      uptime,
		Healthy:     b.monitor.AggregateHealth("avatarbridge").Healthy,
		Channels:    b.manager.States(),
		Parameters:  b.store.Snapshot(),
		Diagnostics: b.router.Diagnostics(),
	}
}

func (b *Bridge) onTrigger(trigger router.ActionTrigger) {
	b.publisher.PublishTrigger(trigger)
	if b.opts.OnTrigger != nil {
		b.opts.OnTrigger(trigger)
	}
}

func (b *Bridge) onTransition(name string, from, to channel.State, cause error) {
	b.publisher.PublishTransition(name, from, to, cause)
}

func (b *Bridge) reportListenerFailure(l *inputosc.Listener, err error) {
	b.logger.Error("listener failed, continuing without it",
		"listener", l.Meta().Name, "error", err)
	b.monitor.UpdateUnhealthy(l.Meta().Name, err.Error())
}
