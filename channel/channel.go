// Package channel maintains the persistent WebSocket connections to the
// rendering server. Each channel owns its own connect/receive/reconnect loop
// so the failure of one endpoint never affects another.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/pkg/retry"
)

// writeWait bounds how long a single frame write may block
const writeWait = 5 * time.Second

// stableConnection is the minimum uptime before the reconnect backoff resets.
// A connection that drops sooner keeps escalating the delay, so an endpoint
// that accepts the handshake and immediately closes is never dialed in a
// tight loop.
const stableConnection = 30 * time.Second

// Handler receives inbound text frames from a channel
type Handler func(channel string, payload []byte)

// TransitionFunc observes channel state transitions
type TransitionFunc func(channel string, from, to State, cause error)

// Channel is one persistent connection. All connection state is owned by the
// run loop; Send and Snapshot only take short locks on shared fields.
type Channel struct {
	name     string
	endpoint string
	inbound  bool
	handler  Handler

	dialer       *websocket.Dialer
	backoff      *retry.Backoff
	logger       *slog.Logger
	metrics      *Metrics
	onTransition TransitionFunc

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stateMu   sync.RWMutex
	state     State
	lastError error
	attempt   int

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newChannel(name, endpoint string, inbound bool, handler Handler,
	dialer *websocket.Dialer, backoff *retry.Backoff,
	logger *slog.Logger, metrics *Metrics, onTransition TransitionFunc) *Channel {
	return &Channel{
		name:         name,
		endpoint:     endpoint,
		inbound:      inbound,
		handler:      handler,
		dialer:       dialer,
		backoff:      backoff,
		logger:       logger,
		metrics:      metrics,
		onTransition: onTransition,
		state:        StateDisconnected,
		shutdown:     make(chan struct{}),
	}
}

// Name returns the channel name
func (c *Channel) Name() string { return c.name }

// State returns the current channel state
func (c *Channel) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Snapshot returns a point-in-time view of the channel for diagnostics
func (c *Channel) Snapshot() Info {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	info := Info{
		Name:             c.name,
		Endpoint:         c.endpoint,
		State:            c.state,
		StateName:        c.state.String(),
		ReconnectAttempt: c.attempt,
	}
	if c.lastError != nil {
		info.LastError = c.lastError.Error()
	}
	return info
}

// Send writes one text frame if the channel is currently connected. A send
// while not connected is dropped and reported; it is never queued.
func (c *Channel) Send(payload []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		if c.metrics != nil {
			c.metrics.sendsDropped.WithLabelValues(c.name).Inc()
		}
		return errors.WrapTransient(
			fmt.Errorf("channel %q: %w", c.name, errors.ErrNotConnected),
			"channel", "Send", "write frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if c.metrics != nil {
			c.metrics.sendsDropped.WithLabelValues(c.name).Inc()
		}
		return errors.WrapTransient(err, "channel", "Send", "write frame")
	}

	if c.metrics != nil {
		c.metrics.framesSent.WithLabelValues(c.name).Inc()
	}
	return nil
}

// run manages the connection with reconnection until shutdown
func (c *Channel) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.transition(StateClosed, nil)
			return
		case <-c.shutdown:
			c.transition(StateClosed, nil)
			return
		default:
		}

		c.transition(StateConnecting, nil)

		conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.noteDialFailure(err)

			if !c.sleep(ctx, c.backoff.Next()) {
				c.transition(StateClosed, nil)
				return
			}
			continue
		}

		c.stateMu.Lock()
		c.attempt = 0
		c.stateMu.Unlock()

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.transition(StateConnected, nil)
		c.logger.Info("channel connected",
			"channel", c.name, "endpoint", c.endpoint)

		connectedAt := time.Now()
		c.readLoop(conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()

		if time.Since(connectedAt) >= stableConnection {
			c.backoff.Reset()
		}

		select {
		case <-ctx.Done():
			c.transition(StateClosed, nil)
			return
		case <-c.shutdown:
			c.transition(StateClosed, nil)
			return
		default:
			c.transition(StateDisconnected, errors.ErrConnectionLost)
		}

		// A dropped connection waits out the backoff like a failed dial does
		if !c.sleep(ctx, c.backoff.Next()) {
			c.transition(StateClosed, nil)
			return
		}
	}
}

// readLoop reads frames until the connection drops or shutdown. Outbound-only
// channels still run the loop to notice server-side closes.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.shutdown:
			default:
				c.logger.Debug("channel read failed",
					"channel", c.name, "error", err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		if c.metrics != nil {
			c.metrics.framesReceived.WithLabelValues(c.name).Inc()
		}

		if c.inbound && c.handler != nil {
			c.handler(c.name, payload)
		}
	}
}

func (c *Channel) noteDialFailure(err error) {
	c.stateMu.Lock()
	c.attempt++
	attempt := c.attempt
	c.stateMu.Unlock()

	if c.metrics != nil {
		c.metrics.reconnectAttempts.WithLabelValues(c.name).Inc()
	}
	c.logger.Warn("channel connect failed",
		"channel", c.name, "endpoint", c.endpoint,
		"attempt", attempt, "error", err)

	c.transition(StateErrored,
		errors.WrapTransient(err, "channel", "run", "dial endpoint"))
}

// sleep waits d or returns false if shutdown arrives first
func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.shutdown:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Channel) transition(to State, cause error) {
	c.stateMu.Lock()
	from := c.state
	if from == to && cause == nil {
		c.stateMu.Unlock()
		return
	}
	c.state = to
	if cause != nil {
		c.lastError = cause
	}
	c.stateMu.Unlock()

	if c.metrics != nil {
		c.metrics.state.WithLabelValues(c.name).Set(float64(to))
	}
	if c.onTransition != nil {
		c.onTransition(c.name, from, to, cause)
	}
}

// close signals the run loop to stop and unblocks any pending read
func (c *Channel) close() {
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}
