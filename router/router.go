// Package router is the single place that knows the bridge message taxonomy.
// It classifies decoded payloads from both transports into parameter store
// writes, action trigger notifications, transcript forwards or diagnostic
// entries, and owns the one outbound path (UI events).
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/metric"
	"github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/param"
)

// OSC address prefixes for the two control planes
const (
	paramAddressPrefix  = "/avatar/parameters/"
	actionAddressPrefix = "/avatar/action/"
)

// Channel names with router-known payload shapes
const (
	ChannelEmotion    = "emotion"
	ChannelTranscript = "transcript"
	ChannelUI         = "ui"
	ChannelLog        = "log"
)

// Edge marks the direction of an action transition
type Edge int

const (
	// EdgeStart is the false to true transition
	EdgeStart Edge = iota
	// EdgeStop is the true to false transition
	EdgeStop
)

// String returns the string representation of Edge
func (e Edge) String() string {
	if e == EdgeStart {
		return "start"
	}
	return "stop"
}

// ActionTrigger is an edge event, not a level value. Redundant transitions
// are suppressed before a trigger is fired.
type ActionTrigger struct {
	Name string `json:"name"`
	Edge Edge   `json:"edge"`
}

// Diagnostics retains the most recent diagnostic log fields. Entries are
// overwritten, never replayed.
type Diagnostics struct {
	LastErrorLevel string    `json:"last_error_level,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	STTEngine      string    `json:"stt_engine,omitempty"`
	TTSEngine      string    `json:"tts_engine,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Sender transmits one payload on a named channel (implemented by the
// channel manager).
type Sender interface {
	Send(channel string, payload []byte) error
}

// Options configures the Router's collaborators. All are optional; a nil
// handler means that event class is dropped after counting.
type Options struct {
	// Transcript receives transcript text, fire-and-forget
	Transcript func(text string)
	// UIEvent receives inbound UI payloads (button clicks etc.)
	UIEvent func(payload json.RawMessage)
	// OnTrigger receives deduplicated action edges
	OnTrigger func(trigger ActionTrigger)
	Logger    *slog.Logger
	Registry  *metric.Registry
}

// Metrics holds Prometheus metrics for the Router
type Metrics struct {
	oscRouted    *prometheus.CounterVec
	framesRouted *prometheus.CounterVec
	unrecognized *prometheus.CounterVec
	triggers     *prometheus.CounterVec
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		oscRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "router",
			Name:      "osc_routed_total",
			Help:      "Total OSC messages routed by kind",
		}, []string{"kind"}),

		framesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "router",
			Name:      "frames_routed_total",
			Help:      "Total channel frames routed by channel",
		}, []string{"channel"}),

		unrecognized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "router",
			Name:      "unrecognized_total",
			Help:      "Total unrecognized messages dropped by source",
		}, []string{"source"}),

		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avatarbridge",
			Subsystem: "router",
			Name:      "triggers_total",
			Help:      "Total action triggers fired by edge",
		}, []string{"edge"}),
	}

	_ = registry.RegisterCounterVec("router", "osc_routed", metrics.oscRouted)
	_ = registry.RegisterCounterVec("router", "frames_routed", metrics.framesRouted)
	_ = registry.RegisterCounterVec("router", "unrecognized", metrics.unrecognized)
	_ = registry.RegisterCounterVec("router", "triggers", metrics.triggers)

	return metrics
}

// Router translates decoded payloads into store writes and notifications
type Router struct {
	store   *param.Store
	sender  Sender
	opts    Options
	logger  *slog.Logger
	metrics *Metrics

	diagMu sync.Mutex
	diag   Diagnostics
}

// New creates a Router over the given store and outbound sender. The sender
// may be nil at construction and wired later with SetSender; the router and
// the channel manager reference each other.
func New(store *param.Store, sender Sender, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		store:   store,
		sender:  sender,
		opts:    opts,
		logger:  logger.With("component", "router"),
		metrics: newMetrics(opts.Registry),
	}
}

// SetSender wires the outbound sender after construction. Call before Start;
// it is not safe concurrently with SendUI.
func (r *Router) SetSender(sender Sender) {
	r.sender = sender
}

// HandleOSC routes one decoded OSC message. Unknown address patterns and
// wrong arity are dropped, never propagated.
func (r *Router) HandleOSC(source string, msg *osc.Message) {
	switch {
	case strings.HasPrefix(msg.Address, paramAddressPrefix):
		name := strings.TrimPrefix(msg.Address, paramAddressPrefix)
		value, ok := msg.Float(0)
		if name == "" || !ok {
			r.unrecognized(source, fmt.Errorf("%s: %w", msg.Address, errors.ErrWrongArity))
			return
		}
		r.store.SetFloat(name, value, source)
		r.countOSC("parameter")

	case strings.HasPrefix(msg.Address, actionAddressPrefix):
		name := strings.TrimPrefix(msg.Address, actionAddressPrefix)
		value, ok := msg.Int(0)
		if name == "" || !ok {
			r.unrecognized(source, fmt.Errorf("%s: %w", msg.Address, errors.ErrWrongArity))
			return
		}
		r.Toggle(name, value != 0, source)
		r.countOSC("action")

	default:
		r.unrecognized(source, fmt.Errorf("%s: %w", msg.Address, errors.ErrUnknownAddress))
	}
}

// emotionFrame uses pointers so an absent field never zeroes a parameter
type emotionFrame struct {
	Joy    *float64 `json:"Joy"`
	Angry  *float64 `json:"Angry"`
	Sorrow *float64 `json:"Sorrow"`
	Fun    *float64 `json:"Fun"`
}

type transcriptFrame struct {
	Text string `json:"text"`
}

type logFrame struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	STT     string `json:"stt"`
	TTS     string `json:"tts"`
}

// HandleFrame routes one inbound text frame from a named channel. Malformed
// frames are dropped; the channel stays connected and no parameter changes.
func (r *Router) HandleFrame(channel string, payload []byte) {
	switch channel {
	case ChannelEmotion:
		var frame emotionFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			r.unrecognized(channel, err)
			return
		}
		r.setIfPresent(param.NameJoy, frame.Joy, channel)
		r.setIfPresent(param.NameAngry, frame.Angry, channel)
		r.setIfPresent(param.NameSorrow, frame.Sorrow, channel)
		r.setIfPresent(param.NameFun, frame.Fun, channel)

	case ChannelTranscript:
		var frame transcriptFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			r.unrecognized(channel, err)
			return
		}
		if r.opts.Transcript != nil {
			r.opts.Transcript(frame.Text)
		}

	case ChannelLog:
		var frame logFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			r.unrecognized(channel, err)
			return
		}
		r.retainDiagnostics(frame)

	case ChannelUI:
		if !json.Valid(payload) {
			r.unrecognized(channel, errors.ErrDecodeFailed)
			return
		}
		if r.opts.UIEvent != nil {
			r.opts.UIEvent(json.RawMessage(payload))
		}

	default:
		r.unrecognized(channel, fmt.Errorf("channel %q: %w", channel, errors.ErrUnrecognizedFrame))
		return
	}

	if r.metrics != nil {
		r.metrics.framesRouted.WithLabelValues(channel).Inc()
	}
}

// Toggle writes an action flag and fires a trigger only on a real edge.
// Redundant Start-while-active and Stop-while-inactive are suppressed.
func (r *Router) Toggle(name string, active bool, source string) {
	prev, existed := r.store.SetBool(name, active, source)
	wasActive := existed && prev.Bool

	var trigger *ActionTrigger
	switch {
	case active && !wasActive:
		trigger = &ActionTrigger{Name: name, Edge: EdgeStart}
	case !active && wasActive:
		trigger = &ActionTrigger{Name: name, Edge: EdgeStop}
	}
	if trigger == nil {
		return
	}

	if r.metrics != nil {
		r.metrics.triggers.WithLabelValues(trigger.Edge.String()).Inc()
	}
	if r.opts.OnTrigger != nil {
		r.opts.OnTrigger(*trigger)
	}
}

// SendUI marshals and sends one payload to the ui channel. Delivery is best
// effort; a disconnected channel drops the event.
func (r *Router) SendUI(payload any) error {
	if r.sender == nil {
		return errors.WrapTransient(errors.ErrNotStarted, "router", "SendUI", "resolve sender")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInvalid(err, "router", "SendUI", "marshal payload")
	}
	return r.sender.Send(ChannelUI, data)
}

// Diagnostics returns the retained diagnostic fields
func (r *Router) Diagnostics() Diagnostics {
	r.diagMu.Lock()
	defer r.diagMu.Unlock()
	return r.diag
}

func (r *Router) retainDiagnostics(frame logFrame) {
	r.diagMu.Lock()
	defer r.diagMu.Unlock()

	if frame.Level == "error" && frame.Message != "" {
		r.diag.LastErrorLevel = frame.Level
		r.diag.LastError = frame.Message
	}
	if frame.STT != "" {
		r.diag.STTEngine = frame.STT
	}
	if frame.TTS != "" {
		r.diag.TTSEngine = frame.TTS
	}
	r.diag.UpdatedAt = time.Now()
}

func (r *Router) setIfPresent(name string, value *float64, source string) {
	if value == nil {
		return
	}
	r.store.SetFloat(name, *value, source)
}

func (r *Router) countOSC(kind string) {
	if r.metrics != nil {
		r.metrics.oscRouted.WithLabelValues(kind).Inc()
	}
}

func (r *Router) unrecognized(source string, err error) {
	if r.metrics != nil {
		r.metrics.unrecognized.WithLabelValues(source).Inc()
	}
	r.logger.Debug("dropped unrecognized message", "source", source, "error", err)
}
