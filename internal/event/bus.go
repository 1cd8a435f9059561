package event

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/common/logger"
)

// Handler processes a single event. A returned error is logged and
// never aborts publication or other handlers.
type Handler func(evt *Event) error

// Subscription is returned from Subscribe; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Bus is a single-process publish/subscribe fabric. Subscribers
// register against a specific Kind or against every kind (wildcard),
// optionally narrowed by a topic filter. Publish dispatches to matching
// handlers, in registration order, on the publisher's own goroutine so
// that all handlers observe one publisher's events in publication order.
type Bus struct {
	mu          sync.Mutex
	byKind      map[Kind][]*subscription
	wildcard    []*subscription
	nextSeq     uint64
	log         *logger.Logger
	historySize int
	history     []*Event
	historyPos  int
	historyLen  int
}

type subscription struct {
	bus         *Bus
	kind        *Kind
	topicFilter string
	handler     Handler
	seq         uint64
}

// NewBus creates a Bus with the given history ring capacity. historySize is
// floored at 1024 per the default minimum.
func NewBus(log *logger.Logger, historySize int) *Bus {
	if historySize < 1024 {
		historySize = 1024
	}
	return &Bus{
		byKind:      make(map[Kind][]*subscription),
		log:         log.WithFields(zap.String("component", "event_bus")),
		historySize: historySize,
		history:     make([]*Event, historySize),
	}
}

// Subscribe registers a handler. When kind is nil the handler receives
// every kind of event (a wildcard sink). topicFilter, when non-empty,
// further narrows delivery per MatchesTopic.
func (b *Bus) Subscribe(kind *Kind, topicFilter string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	sub := &subscription{bus: b, kind: kind, topicFilter: topicFilter, handler: handler, seq: b.nextSeq}

	if kind == nil {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.byKind[*kind] = append(b.byKind[*kind], sub)
	}
	return sub
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.kind == nil {
		b.wildcard = removeSub(b.wildcard, s)
		return
	}
	b.byKind[*s.kind] = removeSub(b.byKind[*s.kind], s)
}

func removeSub(subs []*subscription, target *subscription) []*subscription {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Publish dispatches evt to every matching handler, in registration
// order (kind-specific subscribers and wildcard sinks interleaved by
// subscription sequence). A handler's error or panic
// is captured and logged; it never stops delivery to the remaining
// handlers nor aborts the publish call.
func (b *Bus) Publish(evt *Event) {
	b.mu.Lock()
	matching := make([]*subscription, 0, 4)
	matching = append(matching, b.byKind[evt.Kind]...)
	matching = append(matching, b.wildcard...)
	b.recordHistory(evt)
	b.mu.Unlock()

	sort.Slice(matching, func(i, j int) bool { return matching[i].seq < matching[j].seq })

	for _, sub := range matching {
		if !MatchesTopic(sub.topicFilter, evt.Topics) {
			continue
		}
		b.invoke(sub, evt)
	}
}

func (b *Bus) invoke(sub *subscription, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event_kind", string(evt.Kind)),
				zap.String("event_id", evt.ID),
				zap.Any("recovered", r))
		}
	}()
	if err := sub.handler(evt); err != nil {
		b.log.Error("event handler failed",
			zap.String("event_kind", string(evt.Kind)),
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
}

// recordHistory appends evt to the ring buffer. Caller holds b.mu.
func (b *Bus) recordHistory(evt *Event) {
	b.history[b.historyPos] = evt
	b.historyPos = (b.historyPos + 1) % b.historySize
	if b.historyLen < b.historySize {
		b.historyLen++
	}
}

// History returns up to limit recent events, most recent last,
// optionally filtered to a single kind. limit <= 0 means no limit.
func (b *Bus) History(kind *Kind, limit int) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Event, 0, b.historyLen)
	start := b.historyPos - b.historyLen
	for i := 0; i < b.historyLen; i++ {
		idx := (((start + i) % b.historySize) + b.historySize) % b.historySize
		evt := b.history[idx]
		if evt == nil {
			continue
		}
		if kind != nil && evt.Kind != *kind {
			continue
		}
		out = append(out, evt)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// String implements fmt.Stringer for diagnostic logging of subscriptions.
func (s *subscription) String() string {
	if s.kind == nil {
		return fmt.Sprintf("wildcard(topic=%q)", s.topicFilter)
	}
	return fmt.Sprintf("%s(topic=%q)", *s.kind, s.topicFilter)
}
