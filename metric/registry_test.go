package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/errors"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "avatarbridge",
		Subsystem: "test",
		Name:      name,
	})
}

func TestRegistry_RegisterCounter(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterCounter("osc-9000", "packets_received", newTestCounter("packets_received_total"))
	require.NoError(t, err)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("osc-9000", "packets_received", newTestCounter("packets_received_total")))

	err := r.RegisterCounter("osc-9000", "packets_received", newTestCounter("other_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_SameMetricDifferentComponents(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterCounter("channel-emotion", "frames",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "emotion_frames_total"})))
	require.NoError(t, r.RegisterCounter("channel-transcript", "frames",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "transcript_frames_total"})))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	c := newTestCounter("reconnects_total")
	require.NoError(t, r.RegisterCounter("channel-ui", "reconnects", c))

	assert.True(t, r.Unregister("channel-ui", "reconnects"))
	assert.False(t, r.Unregister("channel-ui", "reconnects"))

	// Re-registration succeeds after unregister
	require.NoError(t, r.RegisterCounter("channel-ui", "reconnects", newTestCounter("reconnects_total")))
}

func TestRegistry_RegisterGaugeVec(t *testing.T) {
	r := NewRegistry()

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "channel_state",
	}, []string{"channel"})

	require.NoError(t, r.RegisterGaugeVec("channel-manager", "state", vec))
}
