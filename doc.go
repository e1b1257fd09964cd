// Package avatarbridge is the real-time event bridge between a long-running
// AI process (speech, emotion and action reasoning) and a rendered character.
//
// # Architecture
//
// The bridge accepts signals over two structurally different transports and
// reconciles them into one authoritative, thread-safe parameter state:
//
//   - OSC over UDP (connectionless, fire-and-forget control messages) handled
//     by input/osc listeners
//   - Persistent WebSocket channels (emotion, transcript, ui, log) handled by
//     the channel manager, each with its own connect/receive/reconnect loop
//
// Inbound payloads are classified by the router into continuous affect
// updates, transcript text, action toggles, diagnostic log entries or
// unrecognized messages. Affect floats are clamped and written to the
// parameter store; action toggles additionally surface their transitions as
// edge-triggered action events. The only outbound path the router owns is UI
// events sent to the ui channel.
//
// External consumers (animation, UI, diagnostics) poll the parameter store
// once per render tick via Get, subscribe to store writes, or receive
// mirrored events from the events publisher when a NATS URL is configured.
//
// # Packages
//
//   - param: clamped, thread-safe parameter store
//   - osc: OSC 1.0 wire encoding and decoding
//   - input/osc: UDP listener components
//   - output/osc: optional affect mirroring to a face tracker
//   - channel: persistent WebSocket channel manager
//   - router: message taxonomy and routing rules
//   - health: channel and bridge health snapshots
//   - events: optional NATS observability publisher
//   - bridge: wiring and lifecycle
//
// Failure is isolated channel-by-channel: a transport error triggers
// reconnect with capped exponential backoff, a decode error drops a single
// message, and a configuration error disables only the listener or channel it
// concerns. No error in one channel may propagate to another.
package avatarbridge
