package osc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/health"
	oscwire "github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/param"
	"github.com/c360/avatarbridge/router"
)

// startListener binds on an OS-assigned port and returns the listener plus a
// channel of dispatched messages.
func startListener(t *testing.T) (*Listener, chan *oscwire.Message) {
	t.Helper()

	dispatched := make(chan *oscwire.Message, 16)
	l := NewListener(ListenerDeps{
		Name: "affect",
		Bind: "127.0.0.1",
		Port: 0,
		Dispatch: func(_ string, msg *oscwire.Message) {
			dispatched <- msg
		},
	})

	require.NoError(t, l.Initialize())
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(2 * time.Second) })

	return l, dispatched
}

func sendPacket(t *testing.T, port int, data []byte) {
	t.Helper()
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestListener_ReceivesAndDispatches(t *testing.T) {
	l, dispatched := startListener(t)

	packet, err := oscwire.Encode(&oscwire.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(0.5)},
	})
	require.NoError(t, err)

	sendPacket(t, l.Port(), packet)

	select {
	case msg := <-dispatched:
		assert.Equal(t, "/avatar/parameters/Joy", msg.Address)
		v, ok := msg.Float(0)
		require.True(t, ok)
		assert.InDelta(t, 0.5, v, 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestListener_MalformedPacketKeepsLoopAlive(t *testing.T) {
	l, dispatched := startListener(t)

	// Garbage, then an address with truncated padding, then a valid message
	sendPacket(t, l.Port(), []byte("not osc at all"))
	sendPacket(t, l.Port(), []byte("/avatar/parameters/Joy\x00"))

	packet, err := oscwire.Encode(&oscwire.Message{
		Address: "/avatar/action/isTalking",
		Args:    []any{int32(1)},
	})
	require.NoError(t, err)
	sendPacket(t, l.Port(), packet)

	select {
	case msg := <-dispatched:
		assert.Equal(t, "/avatar/action/isTalking", msg.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not survive malformed packets")
	}
}

func TestListener_ClampThroughRouter(t *testing.T) {
	store := param.NewStore(nil)
	r := router.New(store, nil, router.Options{})

	l := NewListener(ListenerDeps{
		Name:     "affect",
		Bind:     "127.0.0.1",
		Port:     0,
		Dispatch: r.HandleOSC,
	})
	require.NoError(t, l.Initialize())
	require.NoError(t, l.Start(context.Background()))
	defer func() { _ = l.Stop(2 * time.Second) }()

	packet, err := oscwire.Encode(&oscwire.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(2.0)},
	})
	require.NoError(t, err)
	sendPacket(t, l.Port(), packet)

	require.Eventually(t, func() bool {
		v, ok := store.GetFloat(param.NameJoy)
		return ok && v == 0.6
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListener_StopIsBoundedAndFinal(t *testing.T) {
	l, dispatched := startListener(t)
	port := l.Port()

	start := time.Now()
	require.NoError(t, l.Stop(2*time.Second))
	assert.Less(t, time.Since(start), time.Second)

	// Packets after stop are never dispatched
	packet, err := oscwire.Encode(&oscwire.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(0.1)},
	})
	require.NoError(t, err)
	sendPacket(t, port, packet)

	select {
	case <-dispatched:
		t.Fatal("dispatch after stop")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListener_StopIdempotent(t *testing.T) {
	l, _ := startListener(t)
	require.NoError(t, l.Stop(time.Second))
	require.NoError(t, l.Stop(time.Second))
}

func TestListener_InitializeValidation(t *testing.T) {
	l := NewListener(ListenerDeps{Name: "bad", Bind: "127.0.0.1", Port: 70000,
		Dispatch: func(string, *oscwire.Message) {}})
	err := l.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	l = NewListener(ListenerDeps{Name: "bad", Bind: "127.0.0.1", Port: 9000})
	err = l.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestListener_FatalReadErrorReportedUnhealthy(t *testing.T) {
	monitor := health.NewMonitor()
	l := NewListener(ListenerDeps{
		Name:     "affect",
		Bind:     "127.0.0.1",
		Port:     0,
		Dispatch: func(string, *oscwire.Message) {},
		Monitor:  monitor,
	})
	require.NoError(t, l.Initialize())
	require.NoError(t, l.Start(context.Background()))
	defer func() { _ = l.Stop(time.Second) }()
	require.True(t, l.Health().Healthy)

	// Transient faults keep the loop and health intact
	assert.True(t, l.noteReadError(stderrors.New("read udp: i/o timeout")))
	assert.True(t, l.Health().Healthy)

	// A non-transient fault ends the loop; health must say so
	assert.False(t, l.noteReadError(stderrors.New("read udp: protocol fault")))

	h := l.Health()
	assert.False(t, h.Healthy)
	assert.Contains(t, h.LastError, "protocol fault")

	status, ok := monitor.Get("affect")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func TestListener_BindConflictIsFatal(t *testing.T) {
	first, _ := startListener(t)

	second := NewListener(ListenerDeps{
		Name:     "dup",
		Bind:     "127.0.0.1",
		Port:     first.Port(),
		Dispatch: func(string, *oscwire.Message) {},
	})
	require.NoError(t, second.Initialize())

	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrBindFailed)
}
