package bus

import "github.com/rishav/floxcore/internal/market"

// SubscriberMode declares whether a listener is driven by the bus's own
// worker goroutine (Push) or pulls events from its queue at its own
// cadence (Pull). Mixing modes on one bus is permitted.
type SubscriberMode int8

const (
	PushMode SubscriberMode = iota
	PullMode
)

func (m SubscriberMode) String() string {
	if m == PullMode {
		return "PULL"
	}
	return "PUSH"
}

// Policy selects the bus's dispatch discipline.
type Policy int8

const (
	// Async dispatch: publish returns once every subscriber queue has
	// accepted (or dropped) the item; workers race ahead independently.
	Async Policy = iota
	// Sync dispatch: publish blocks on a TickBarrier until every
	// push-mode subscriber has consumed the tick, guaranteeing that
	// tick N+1 never begins dispatch before tick N is fully drained.
	Sync
)

// Stamped is the self-referential constraint every bus event type must
// satisfy so Publish can stamp a tick sequence without requiring a
// pointer receiver: WithTick returns a copy carrying the new sequence.
type Stamped[E any] interface {
	WithTick(seq uint64) E
}

// Listener is a subscriber to a Bus[E].
type Listener[E any] interface {
	ID() market.SubscriberId
	Mode() SubscriberMode
	Handle(event E)
}
