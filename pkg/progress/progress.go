package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// EventType identifies a progress event.
type EventType string

const (
	EventRunStarted      EventType = "run-started"
	EventItemProcessed   EventType = "item-processed"
	EventSourceCompleted EventType = "source-completed"
	EventRunCompleted    EventType = "run-completed"
)

// Event is a progress notification. Field names are part of the wire
// format seen by API clients.
type Event struct {
	Type           EventType     `json:"type"`
	RunID          string        `json:"run_id"`
	Source         string        `json:"source,omitempty"`
	Classification string        `json:"classification,omitempty"`
	ProgressCounts *store.Counts `json:"progress_counts,omitempty"`
	Status         string        `json:"status,omitempty"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Publisher fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Publisher interface {
	Publish(ev Event)
	Subscribe(buffer int) (*Subscription, func())
	SubscriberCount() int
	Close()
}

// Subscription receives events on C until it is cancelled or the
// publisher is closed, at which point C is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns the number of events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Compile-time interface check.
var _ Publisher = (*publisher)(nil)

type publisher struct {
	log    logrus.FieldLogger
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewPublisher creates an in-process Publisher.
func NewPublisher(log logrus.FieldLogger) Publisher {
	return &publisher{
		log:  log.WithField("component", "progress"),
		subs: make(map[uint64]*Subscription, 4),
	}
}

// Publish delivers ev to every subscriber with buffer space.
func (p *publisher) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, sub := range p.subs {
		select {
		case sub.ch <- ev:
		default:
			if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
				p.log.WithField("dropped", n).Debug("Subscriber buffer full, dropping events")
			}
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// may be called more than once.
func (p *publisher) Subscribe(buffer int) (*Subscription, func()) {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(ch)

		return sub, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = sub

	var once sync.Once

	return sub, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()

			if _, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(ch)
			}
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (p *publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (p *publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
}
