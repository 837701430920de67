package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is on. Flow control is
// credit based: each delivered event spends one credit and the consumer
// grants more as it drains. Without credits, or with a full buffer,
// events are dropped and counted.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool
	// closeMu keeps Close from racing an in-flight send.
	closeMu sync.RWMutex

	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewSubscriber creates a subscriber with the given buffer and initial
// credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining credits.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events this subscriber missed.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Topics returns the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (s *Subscriber) send(evt *Event) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	for {
		c := s.credits.Load()
		if c <= 0 {
			s.dropped.Add(1)
			return false
		}
		if s.credits.CompareAndSwap(c, c-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
