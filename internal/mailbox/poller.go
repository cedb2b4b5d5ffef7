package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

var ErrPollExhausted = errors.New("labelled object did not appear within the attempt budget")

// ObjectStatter is the slice of the object store the poller needs.
type ObjectStatter interface {
	Stat(ctx context.Context, key string) (ports.ObjectInfo, error)
}

type PollerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

const (
	// The worker on the inference side needs a moment before the first
	// fetch can possibly succeed.
	defaultPollInitialDelay = 10 * time.Second
	defaultPollInterval     = 5 * time.Second
	defaultPollAttempts     = 12
)

// Poller fetches a derived labelled key at a fixed interval until the
// object appears or a maximum attempt count is exhausted. No backoff.
type Poller struct {
	store        ObjectStatter
	initialDelay time.Duration
	interval     time.Duration
	maxAttempts  int
}

func NewPoller(store ObjectStatter, cfg PollerConfig) *Poller {
	initialDelay := cfg.InitialDelay
	if initialDelay < 0 {
		initialDelay = defaultPollInitialDelay
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultPollAttempts
	}
	return &Poller{
		store:        store,
		initialDelay: initialDelay,
		interval:     interval,
		maxAttempts:  maxAttempts,
	}
}

type PollResult struct {
	Info ports.ObjectInfo
	// Attempts is the number of fetch attempts actually made, including
	// the successful one.
	Attempts int
}

// Await blocks until the object at key exists, the attempt budget runs out,
// or ctx is cancelled. Missing-key and transient store errors both consume
// an attempt; they are not distinguished.
func (p *Poller) Await(ctx context.Context, key string) (PollResult, error) {
	if p.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-time.After(p.initialDelay):
		}
	}

	var lastErr error
	attempts := 0
	for attempts < p.maxAttempts {
		attempts++
		info, err := p.store.Stat(ctx, key)
		if err == nil {
			return PollResult{Info: info, Attempts: attempts}, nil
		}
		if ctx.Err() != nil {
			return PollResult{Attempts: attempts}, ctx.Err()
		}
		lastErr = err

		if attempts < p.maxAttempts {
			select {
			case <-ctx.Done():
				return PollResult{Attempts: attempts}, ctx.Err()
			case <-time.After(p.interval):
			}
		}
	}

	if lastErr != nil && !ports.IsObjectNotFound(lastErr) {
		return PollResult{Attempts: attempts}, fmt.Errorf("%w: last error: %v", ErrPollExhausted, lastErr)
	}
	return PollResult{Attempts: attempts}, ErrPollExhausted
}
