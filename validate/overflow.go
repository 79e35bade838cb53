package validate

import (
	"context"
	"sync"
	"time"

	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
)

// Overflow holds events that arrived while their emitter's rate bucket was
// exhausted, retrying each as tokens replenish, bounded to RateBufferSize
// per emitter; events beyond that bound are dropped rather than queued.
type Overflow struct {
	cfg   Config
	admit store.EventStore

	mu    sync.Mutex
	queue map[emitterKey][]*event.Event
}

// NewOverflow constructs an overflow buffer that retries through admit.
func NewOverflow(cfg Config, admit store.EventStore) *Overflow {
	return &Overflow{
		cfg:   cfg,
		admit: admit,
		queue: make(map[emitterKey][]*event.Event),
	}
}

// Hold buffers e for later retry, dropping it immediately if the emitter's
// buffer is already at RateBufferSize.
func (o *Overflow) Hold(e *event.Event) (held bool) {
	k := keyFor(e.Emitter)

	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queue[k]
	if len(q) >= o.cfg.RateBufferSize {
		return false
	}
	o.queue[k] = append(q, e)
	return true
}

// Drain retries every buffered event for emitter against admit, in the
// order they were held, stopping at the first that is rejected for rate
// limiting again (later events from the same burst are left queued).
func (o *Overflow) Drain(ctx context.Context, emitter []byte) {
	k := keyFor(emitter)

	o.mu.Lock()
	q := o.queue[k]
	o.queue[k] = nil
	o.mu.Unlock()

	var requeue []*event.Event
	for i, e := range q {
		if _, err := o.admit.Admit(ctx, e); err != nil {
			if ve, ok := err.(*Error); ok && ve.Reason == ReasonRateLimited {
				requeue = append(requeue, q[i:]...)
				break
			}
			// Any other rejection reason is permanent for this event;
			// drop it rather than retry forever.
			continue
		}
	}

	if len(requeue) > 0 {
		o.mu.Lock()
		o.queue[k] = append(requeue, o.queue[k]...)
		o.mu.Unlock()
	}
}

// RunDrainLoop periodically drains every emitter with buffered events,
// until ctx is cancelled. Callers typically run this once per node.
func (o *Overflow) RunDrainLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			emitters := make([][]byte, 0, len(o.queue))
			for k := range o.queue {
				emitters = append(emitters, []byte(k))
			}
			o.mu.Unlock()

			for _, e := range emitters {
				o.Drain(ctx, e)
			}
		}
	}
}
