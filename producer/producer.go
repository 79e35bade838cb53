// Package producer implements the surface external probers and routers use
// to submit signed events and consume admitted ones: submit/subscribe/
// belief, mirroring the shape of an application proxy but facing the core
// rather than an external process.
package producer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/belief"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
)

// subscriberBuffer bounds how many deliveries a slow subscriber can lag
// behind before the producer starts dropping and counting.
const subscriberBuffer = 256

// Admission is the result handed back to a caller of Submit: producers are
// not trusted for anything beyond signing, so this is the only feedback
// they get about what happened to their event.
type Admission struct {
	Outcome store.AdmitOutcome
	Err     error
}

// Filter selects which admitted events a subscription receives. A nil field
// matches anything.
type Filter struct {
	Terrain *event.TerrainAddress
	Kind    *event.BodyKind
	Target  *crypto.Hash
}

// Matches reports whether e satisfies every non-nil field of f.
func (f Filter) Matches(e *event.Event) bool {
	if f.Terrain != nil && *f.Terrain != e.Terrain {
		return false
	}
	if f.Kind != nil && *f.Kind != e.Body.Kind() {
		return false
	}
	if f.Target != nil {
		target, ok := targetOf(e.Body)
		if !ok || target != *f.Target {
			return false
		}
	}
	return true
}

func targetOf(b event.Body) (crypto.Hash, bool) {
	switch v := b.(type) {
	case event.ProbeReceipt:
		return v.Target, true
	case event.BehaviorAttestation:
		return v.Target, true
	case event.LinkHint:
		return v.Target, true
	default:
		return crypto.Hash{}, false
	}
}

// Delivery is one item handed to a subscriber: either an admitted event, or
// a Lagged marker reporting how many deliveries were dropped because the
// subscriber fell behind.
type Delivery struct {
	Event  *event.Event
	Lagged int
}

type subscription struct {
	world  crypto.Hash
	filter Filter
	ch     chan Delivery
	lagged int
}

// Producer implements the submit/subscribe/belief surface over an event
// store and belief aggregator. Order within a single emitter is preserved
// to every subscriber; order across emitters is arbitrary.
type Producer struct {
	store   store.EventStore
	beliefs *belief.Aggregator
	logger  *logrus.Logger

	mu   sync.Mutex
	subs map[crypto.Hash]map[*subscription]struct{}
}

// New constructs a Producer. If logger is nil, a new one is created at
// debug level, matching the proxy construction convention.
func New(s store.EventStore, beliefs *belief.Aggregator, logger *logrus.Logger) *Producer {
	if logger == nil {
		logger = logrus.New()
		logger.Level = logrus.DebugLevel
	}
	return &Producer{
		store:   s,
		beliefs: beliefs,
		logger:  logger,
		subs:    make(map[crypto.Hash]map[*subscription]struct{}),
	}
}

// Submit admits e and, on success, fans it out to matching subscribers and
// folds it into the belief aggregator if its body contributes to one.
func (p *Producer) Submit(ctx context.Context, e *event.Event) Admission {
	outcome, err := p.store.Admit(ctx, e)

	p.logger.WithFields(logrus.Fields{
		"world":   e.World,
		"terrain": e.Terrain,
		"outcome": outcome,
		"err":     err,
	}).Debug("producer.Submit")

	if err == nil && outcome == store.Accepted {
		p.dispatch(e)
		p.fold(e)
	}

	return Admission{Outcome: outcome, Err: err}
}

func (p *Producer) fold(e *event.Event) {
	if p.beliefs == nil {
		return
	}
	switch body := e.Body.(type) {
	case event.BehaviorAttestation:
		p.beliefs.OnAttestation(e.World, e.Emitter, e.EpochID, body)
	case event.Dispute:
		for _, disputedID := range body.DisputedEventIDs {
			disputed, ok := p.store.Get(disputedID)
			if !ok {
				continue
			}
			target, ok := targetOf(disputed.Body)
			if !ok {
				continue
			}
			p.beliefs.OnDispute(e.World, target, disputed.Emitter, e.EpochID)
		}
	}
}

func (p *Producer) dispatch(e *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for sub := range p.subs[e.World] {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- Delivery{Event: e}:
		default:
			sub.lagged++
			// Drain the lag marker through too, best-effort; if the
			// channel is still full the count simply grows until the next
			// successful send can report it.
			select {
			case sub.ch <- Delivery{Lagged: sub.lagged}:
				sub.lagged = 0
			default:
			}
		}
	}
}

// Subscribe returns a channel of deliveries for world matching filter, and a
// cancel function that unregisters it and closes the channel. The channel
// is never closed except via cancel.
func (p *Producer) Subscribe(world crypto.Hash, filter Filter) (<-chan Delivery, func()) {
	sub := &subscription{world: world, filter: filter, ch: make(chan Delivery, subscriberBuffer)}

	p.mu.Lock()
	set, ok := p.subs[world]
	if !ok {
		set = make(map[*subscription]struct{})
		p.subs[world] = set
	}
	set[sub] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		delete(p.subs[world], sub)
		p.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Belief returns the current belief for (world, targetRef).
func (p *Producer) Belief(world, targetRef crypto.Hash) belief.Belief {
	if p.beliefs == nil {
		return belief.Belief{}
	}
	return p.beliefs.Belief(world, targetRef)
}
