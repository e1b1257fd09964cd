package osc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/errors"
	oscwire "github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/param"
)

// trackerSocket plays the role of the external face tracker
func trackerSocket(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readPacket(t *testing.T, conn *net.UDPConn, timeout time.Duration) (*oscwire.Message, bool) {
	t.Helper()
	buf := make([]byte, 65536)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, false
	}
	msg, err := oscwire.Decode(buf[:n])
	require.NoError(t, err)
	return msg, true
}

func TestSender_MirrorsFloatWrites(t *testing.T) {
	tracker, port := trackerSocket(t)

	store := param.NewStore(nil)
	s := NewSender(SenderDeps{Host: "127.0.0.1", Port: port, Store: store})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()

	store.SetFloat(param.NameJoy, 2.0, "test")

	msg, ok := readPacket(t, tracker, 2*time.Second)
	require.True(t, ok, "expected a mirrored datagram")
	assert.Equal(t, "/avatar/parameters/Joy", msg.Address)
	v, ok := msg.Float(0)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v, 1e-6) // store clamp applied before mirroring
}

func TestSender_IgnoresBoolWrites(t *testing.T) {
	tracker, port := trackerSocket(t)

	store := param.NewStore(nil)
	s := NewSender(SenderDeps{Host: "127.0.0.1", Port: port, Store: store})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()

	store.SetBool(param.NameIsTalking, true, "test")

	_, ok := readPacket(t, tracker, 300*time.Millisecond)
	assert.False(t, ok, "bool writes must not be mirrored")
}

func TestSender_StopsMirroring(t *testing.T) {
	tracker, port := trackerSocket(t)

	store := param.NewStore(nil)
	s := NewSender(SenderDeps{Host: "127.0.0.1", Port: port, Store: store})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))

	store.SetFloat(param.NameFun, 0.2, "test")

	_, ok := readPacket(t, tracker, 300*time.Millisecond)
	assert.False(t, ok, "no mirroring after stop")
}

func TestSender_InitializeValidation(t *testing.T) {
	store := param.NewStore(nil)

	tests := []struct {
		name string
		deps SenderDeps
	}{
		{"missing host", SenderDeps{Port: 9000, Store: store}},
		{"bad port", SenderDeps{Host: "127.0.0.1", Port: 0, Store: store}},
		{"missing store", SenderDeps{Host: "127.0.0.1", Port: 9000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSender(tt.deps).Initialize()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}
