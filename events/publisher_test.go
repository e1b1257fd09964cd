package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/channel"
	"github.com/c360/avatarbridge/errors"
	"github.com/c360/avatarbridge/param"
	"github.com/c360/avatarbridge/router"
)

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
	drained   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: make(map[string][][]byte)}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) get(subject string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[subject]
}

func newTestPublisher(conn natsConn) *Publisher {
	return &Publisher{conn: conn, prefix: DefaultSubjectPrefix}
}

func TestPublisher_PublishTrigger(t *testing.T) {
	conn := newFakeConn()
	p := newTestPublisher(conn)

	p.PublishTrigger(router.ActionTrigger{Name: param.NameIsReading, Edge: router.EdgeStart})

	msgs := conn.get("bridge.events.action")
	require.Len(t, msgs, 1)

	var event ActionEvent
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, "isReading", event.Name)
	assert.Equal(t, "start", event.Edge)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_PublishParam(t *testing.T) {
	conn := newFakeConn()
	p := newTestPublisher(conn)

	p.PublishParam(param.Value{
		Name:      param.NameJoy,
		Kind:      param.KindFloat,
		Float:     0.6,
		Source:    "osc-9000",
		UpdatedAt: time.Now(),
	})

	msgs := conn.get("bridge.events.param")
	require.Len(t, msgs, 1)

	var event ParamEvent
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, "Joy", event.Name)
	assert.Equal(t, "float", event.Kind)
	assert.Equal(t, 0.6, event.Float)
	assert.Equal(t, "osc-9000", event.Source)
}

func TestPublisher_PublishTransition(t *testing.T) {
	conn := newFakeConn()
	p := newTestPublisher(conn)

	p.PublishTransition("emotion", channel.StateConnecting, channel.StateErrored,
		errors.ErrConnectionTimeout)

	msgs := conn.get("bridge.events.channel")
	require.Len(t, msgs, 1)

	var event ChannelEvent
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, "emotion", event.Channel)
	assert.Equal(t, "connecting", event.From)
	assert.Equal(t, "errored", event.To)
	assert.Contains(t, event.Cause, "timeout")
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher

	// All methods must be no-ops on a nil publisher
	p.PublishTrigger(router.ActionTrigger{Name: "x", Edge: router.EdgeStop})
	p.PublishParam(param.Value{Name: "y"})
	p.PublishTransition("z", channel.StateConnected, channel.StateDisconnected, nil)
	p.Close()
}

func TestPublisher_PublishErrorDoesNotPropagate(t *testing.T) {
	conn := newFakeConn()
	conn.err = fmt.Errorf("connection draining")
	p := newTestPublisher(conn)

	p.PublishParam(param.Value{Name: param.NameFun, Kind: param.KindFloat})
	assert.Empty(t, conn.get("bridge.events.param"))
}
