// Package retry provides capped exponential backoff for connect and reconnect loops
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent thundering herd
}

// Handshake returns a config for bounded connect attempts. A dead endpoint
// must fail the attempt quickly so the caller's reconnect loop stays in charge.
func Handshake() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect returns the backoff shape used by channel reconnect loops:
// capped exponential, never busy-looping a dead endpoint.
func Reconnect() Config {
	return Config{
		MaxAttempts:  0, // loop-managed, attempts unbounded until shutdown
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Do executes fn with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return errors.New("retry: Multiplier cannot be negative")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1 // At least try once
	}

	// Set defaults if not specified
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}

	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		sleepDuration := delay
		if cfg.AddJitter {
			sleepDuration = delay + jitter(delay)
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		delay = nextDelay(delay, cfg.Multiplier, cfg.MaxDelay)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Backoff is a stateful delay stepper for loops that reconnect indefinitely
// until shutdown. Next returns the delay to sleep before the next attempt;
// Reset returns the sequence to its initial delay after a successful
// connection.
type Backoff struct {
	cfg     Config
	current time.Duration
}

// NewBackoff creates a backoff stepper from cfg (zero fields get defaults)
func NewBackoff(cfg Config) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	return &Backoff{cfg: cfg}
}

// Next returns the delay before the next attempt and advances the sequence
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.cfg.InitialDelay
	} else {
		b.current = nextDelay(b.current, b.cfg.Multiplier, b.cfg.MaxDelay)
	}

	d := b.current
	if b.cfg.AddJitter {
		d += jitter(d)
	}
	return d
}

// Reset returns the sequence to its initial delay
func (b *Backoff) Reset() {
	b.current = 0
}

func nextDelay(current time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	next := float64(current) * multiplier
	if next > float64(maxDelay) || next > float64(time.Duration(1<<63-1)) {
		return maxDelay
	}
	return time.Duration(next)
}

// jitter returns up to 25% of d using the thread-safe random source
func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSource.Int63n(int64(d / 4)))
}
