// Package param provides the authoritative, thread-safe store of named avatar
// parameters. Floats are clamped before storage; bools are stored as-is.
// The store has no knowledge of transports: every channel and listener writes
// through the same two setters and last writer wins.
package param

import (
	"log/slog"
	"sync"
	"time"
)

// Clamp bounds applied to every float parameter before storage. MouthOpen is
// clamped like the rest; the store never holds a float outside this range.
const (
	FloatMin = -0.6
	FloatMax = 0.6
)

// Wildcard subscribes to writes on every parameter
const Wildcard = "*"

// Kind discriminates parameter value types
type Kind int

const (
	// KindFloat is a continuous scalar parameter
	KindFloat Kind = iota
	// KindBool is a discrete action flag
	KindBool
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is the stored state of a single parameter
type Value struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Float     float64   `json:"float,omitempty"`
	Bool      bool      `json:"bool,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"` // logical channel that wrote last
}

// SubscribeFunc is invoked after each successful write to a matching
// parameter. Callbacks run inline inside the write critical section: they
// must be cheap, must not block, and must not call back into the store.
// A slow subscriber throttles the writing receive loop by design choice
// (synchronous notification, no application-level queue).
type SubscribeFunc func(Value)

type subscriber struct {
	pattern string // parameter name or Wildcard
	fn      SubscribeFunc
}

// Store holds all parameters behind one coarse lock. Writes are a handful per
// frame, so per-parameter locking buys nothing here.
type Store struct {
	mu     sync.RWMutex
	values map[string]Value
	subs   []subscriber
	logger *slog.Logger
}

// NewStore creates an empty parameter store
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default().With("component", "param-store")
	}
	return &Store{
		values: make(map[string]Value),
		logger: logger,
	}
}

// SetFloat clamps value to [FloatMin, FloatMax], stores it, timestamps it and
// notifies subscribers. Unknown names are created on first write; the call
// never fails. Returns the value as stored.
func (s *Store) SetFloat(name string, value float64, source string) Value {
	clamped := clampFloat(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	v := Value{
		Name:      name,
		Kind:      KindFloat,
		Float:     clamped,
		UpdatedAt: time.Now(),
		Source:    source,
	}
	s.values[name] = v
	s.notifyLocked(v)
	return v
}

// SetBool stores value as-is (no clamping) and notifies subscribers.
// It returns the previous value and whether one existed, so callers can
// edge-detect transitions inside the same critical section as the write.
func (s *Store) SetBool(name string, value bool, source string) (prev Value, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed = s.values[name]

	v := Value{
		Name:      name,
		Kind:      KindBool,
		Bool:      value,
		UpdatedAt: time.Now(),
		Source:    source,
	}
	s.values[name] = v
	s.notifyLocked(v)
	return prev, existed
}

// Get returns the latest stored value for name. It never blocks on writers
// beyond the coarse lock hold time of a single write.
func (s *Store) Get(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[name]
	return v, ok
}

// GetFloat returns the float value for name, or 0 if absent or not a float
func (s *Store) GetFloat(name string) (float64, bool) {
	v, ok := s.Get(name)
	if !ok || v.Kind != KindFloat {
		return 0, false
	}
	return v.Float, true
}

// GetBool returns the bool value for name, or false if absent or not a bool
func (s *Store) GetBool(name string) (bool, bool) {
	v, ok := s.Get(name)
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// Subscribe registers fn for writes to the named parameter, or to every
// parameter when pattern is Wildcard. Subscriptions cannot be removed; the
// store lives for the process lifetime.
func (s *Store) Subscribe(pattern string, fn SubscribeFunc) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscriber{pattern: pattern, fn: fn})
}

// Snapshot returns a copy of all stored values for diagnostics
func (s *Store) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Value, len(s.values))
	for name, v := range s.values {
		out[name] = v
	}
	return out
}

// Len returns the number of stored parameters
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// notifyLocked invokes matching subscribers; caller holds the write lock
func (s *Store) notifyLocked(v Value) {
	for _, sub := range s.subs {
		if sub.pattern == Wildcard || sub.pattern == v.Name {
			sub.fn(v)
		}
	}
}

func clampFloat(v float64) float64 {
	if v < FloatMin {
		return FloatMin
	}
	if v > FloatMax {
		return FloatMax
	}
	return v
}
