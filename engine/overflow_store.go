package engine

import (
	"context"

	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
	"github.com/rng-ops/gossip/validate"
)

// overflowStore wraps an EventStore so that an event rejected purely for
// exhausting its emitter's rate bucket is held for retry instead of
// dropped for good: everything else about Admit's outcome passes through
// unchanged, including the Rejected outcome reported to this caller. The
// event reappears, if it is ever accepted, through whatever path the
// drain loop's own Admit call triggers (belief folding, subscriber
// fan-out), not as a second return from this call.
type overflowStore struct {
	store.EventStore
	overflow *validate.Overflow
}

func newOverflowStore(underlying store.EventStore, overflow *validate.Overflow) *overflowStore {
	return &overflowStore{EventStore: underlying, overflow: overflow}
}

func (s *overflowStore) Admit(ctx context.Context, e *event.Event) (store.AdmitOutcome, error) {
	outcome, err := s.EventStore.Admit(ctx, e)
	if err != nil {
		if ve, ok := err.(*validate.Error); ok && ve.Reason == validate.ReasonRateLimited {
			s.overflow.Hold(e)
		}
	}
	return outcome, err
}
