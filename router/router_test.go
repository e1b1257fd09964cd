package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/osc"
	"github.com/c360/avatarbridge/param"
)

type fakeSender struct {
	sent map[string][][]byte
	err  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][][]byte)}
}

func (f *fakeSender) Send(channel string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent[channel] = append(f.sent[channel], payload)
	return nil
}

func newTestRouter(t *testing.T, opts Options) (*Router, *param.Store, *fakeSender) {
	t.Helper()
	store := param.NewStore(nil)
	sender := newFakeSender()
	return New(store, sender, opts), store, sender
}

func TestHandleOSC_ParameterWrite(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(0.4)},
	})

	v, ok := store.GetFloat(param.NameJoy)
	require.True(t, ok)
	assert.InDelta(t, 0.4, v, 1e-9)
}

func TestHandleOSC_ParameterClamped(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(2.0)},
	})
	v, _ := store.GetFloat(param.NameJoy)
	assert.Equal(t, 0.6, v)

	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{float64(-5.0)},
	})
	v, _ = store.GetFloat(param.NameJoy)
	assert.Equal(t, -0.6, v)
}

func TestHandleOSC_MouthOpenClamped(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/avatar/parameters/MouthOpen",
		Args:    []any{float64(1.5)},
	})

	v, _ := store.GetFloat(param.NameMouthOpen)
	assert.Equal(t, 0.6, v)
}

func TestHandleOSC_ActionEdges(t *testing.T) {
	var triggers []ActionTrigger
	r, store, _ := newTestRouter(t, Options{
		OnTrigger: func(tr ActionTrigger) { triggers = append(triggers, tr) },
	})

	toggle := func(v int32) {
		r.HandleOSC("osc-9001", &osc.Message{
			Address: "/avatar/action/isReading",
			Args:    []any{v},
		})
	}

	// Double Start produces exactly one trigger
	toggle(1)
	toggle(1)
	require.Len(t, triggers, 1)
	assert.Equal(t, ActionTrigger{Name: param.NameIsReading, Edge: EdgeStart}, triggers[0])

	active, ok := store.GetBool(param.NameIsReading)
	require.True(t, ok)
	assert.True(t, active)

	// Stop fires once, a second Stop is suppressed
	toggle(0)
	toggle(0)
	require.Len(t, triggers, 2)
	assert.Equal(t, EdgeStop, triggers[1].Edge)
}

func TestHandleOSC_FirstWriteFalseNoTrigger(t *testing.T) {
	var triggers []ActionTrigger
	r, _, _ := newTestRouter(t, Options{
		OnTrigger: func(tr ActionTrigger) { triggers = append(triggers, tr) },
	})

	r.HandleOSC("osc-9001", &osc.Message{
		Address: "/avatar/action/usePhone",
		Args:    []any{int32(0)},
	})

	assert.Empty(t, triggers)
}

func TestHandleOSC_UnknownAddressDropped(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/something/else",
		Args:    []any{float64(1)},
	})
	r.HandleOSC("osc-9000", &osc.Message{
		Address: "/avatar/parameters/Joy",
		Args:    []any{}, // wrong arity
	})

	assert.Equal(t, 0, store.Len())
}

func TestHandleFrame_Emotion(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleFrame(ChannelEmotion, []byte(`{"Joy": 0.5, "Angry": 0.1, "Sorrow": 2.0, "Fun": -0.2}`))

	joy, _ := store.GetFloat(param.NameJoy)
	assert.InDelta(t, 0.5, joy, 1e-9)
	sorrow, _ := store.GetFloat(param.NameSorrow)
	assert.Equal(t, 0.6, sorrow) // clamped
	fun, _ := store.GetFloat(param.NameFun)
	assert.InDelta(t, -0.2, fun, 1e-9)
}

func TestHandleFrame_EmotionPartial(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	store.SetFloat(param.NameAngry, 0.3, "seed")
	r.HandleFrame(ChannelEmotion, []byte(`{"Joy": 0.2}`))

	// Absent fields leave prior values untouched
	angry, _ := store.GetFloat(param.NameAngry)
	assert.InDelta(t, 0.3, angry, 1e-9)
}

func TestHandleFrame_MalformedJSONLeavesStoreUntouched(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	before := store.Snapshot()
	r.HandleFrame(ChannelEmotion, []byte(`{Joy: nope`))
	r.HandleFrame(ChannelTranscript, []byte(`not json`))
	r.HandleFrame(ChannelLog, []byte(`[1,2,3`))

	assert.Equal(t, before, store.Snapshot())
}

func TestHandleFrame_Transcript(t *testing.T) {
	var got string
	r, _, _ := newTestRouter(t, Options{
		Transcript: func(text string) { got = text },
	})

	r.HandleFrame(ChannelTranscript, []byte(`{"text": "hello there"}`))
	assert.Equal(t, "hello there", got)
}

func TestHandleFrame_LogRetention(t *testing.T) {
	r, _, _ := newTestRouter(t, Options{})

	r.HandleFrame(ChannelLog, []byte(`{"level": "info", "message": "starting", "stt": "whisper"}`))
	r.HandleFrame(ChannelLog, []byte(`{"level": "error", "message": "tts failed", "tts": "voicevox"}`))
	r.HandleFrame(ChannelLog, []byte(`{"level": "info", "message": "recovered"}`))

	diag := r.Diagnostics()
	// Only the most recent error is retained; info entries do not overwrite it
	assert.Equal(t, "tts failed", diag.LastError)
	assert.Equal(t, "whisper", diag.STTEngine)
	assert.Equal(t, "voicevox", diag.TTSEngine)
	assert.False(t, diag.UpdatedAt.IsZero())
}

func TestHandleFrame_UIEvent(t *testing.T) {
	var got json.RawMessage
	r, _, _ := newTestRouter(t, Options{
		UIEvent: func(payload json.RawMessage) { got = payload },
	})

	r.HandleFrame(ChannelUI, []byte(`{"button": "wave"}`))
	assert.JSONEq(t, `{"button": "wave"}`, string(got))

	got = nil
	r.HandleFrame(ChannelUI, []byte(`{broken`))
	assert.Nil(t, got)
}

func TestHandleFrame_UnknownChannelDropped(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.HandleFrame("mystery", []byte(`{"Joy": 0.5}`))
	assert.Equal(t, 0, store.Len())
}

func TestSendUI(t *testing.T) {
	r, _, sender := newTestRouter(t, Options{})

	require.NoError(t, r.SendUI(map[string]any{"gesture": "nod"}))
	require.Len(t, sender.sent[ChannelUI], 1)
	assert.JSONEq(t, `{"gesture": "nod"}`, string(sender.sent[ChannelUI][0]))
}

func TestSendUI_UnmarshalablePayload(t *testing.T) {
	r, _, _ := newTestRouter(t, Options{})

	err := r.SendUI(func() {})
	require.Error(t, err)
}

func TestMapPAD(t *testing.T) {
	tests := []struct {
		name                         string
		pleasure, arousal, dominance float64
		joy, angry, sorrow           float64
		fun                          float64
	}{
		{"neutral", 0, 0, 0, 0, 0, 0, 0},
		{"excited", 1, 1, 0.5, 1, 0, 0, 0},
		{"furious", -1, 1, 1, 0, 1, 0, 0},
		{"depressed", -1, -1, -1, 0, 0, 1, 0},
		{"relaxed", 1, -1, 0, 0, 0, 0, 1},
		{"mild joy", 0.4, 0.2, 0.1, 0.3, 0, 0, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MapPAD(tt.pleasure, tt.arousal, tt.dominance)
			assert.InDelta(t, tt.joy, a.Joy, 1e-9)
			assert.InDelta(t, tt.angry, a.Angry, 1e-9)
			assert.InDelta(t, tt.sorrow, a.Sorrow, 1e-9)
			assert.InDelta(t, tt.fun, a.Fun, 1e-9)
		})
	}
}

func TestApplyAffect(t *testing.T) {
	r, store, _ := newTestRouter(t, Options{})

	r.ApplyAffect(Affect{Joy: 0.9, Angry: 0.1, Sorrow: 0, Fun: 0.2}, "pad")

	joy, _ := store.GetFloat(param.NameJoy)
	assert.Equal(t, 0.6, joy) // store clamp applies
	angry, _ := store.GetFloat(param.NameAngry)
	assert.InDelta(t, 0.1, angry, 1e-9)

	v, _ := store.Get(param.NameJoy)
	assert.Equal(t, "pad", v.Source)
}
