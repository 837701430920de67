package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/CorbanSy/PropDash-sub000/id"
)

// Topic names:
//
//	provider:<providerID>  offers issued to or resolved for one provider
//	job:<jobID>            everything about one job
//	offers                 all offer events
//	runs                   all run events
//	firehose               everything
const (
	TopicOffers   = "offers"
	TopicRuns     = "runs"
	TopicFirehose = "firehose"
)

// ProviderTopic returns the topic of one provider.
func ProviderTopic(providerID string) string { return "provider:" + providerID }

// JobTopic returns the topic of one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// TopicRegistry manages subscriber sets per topic. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic and drops empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.unsubscribe(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.unsubscribe(topic, subscriberID)
	}
}

func (tr *TopicRegistry) unsubscribe(topic, subscriberID string) {
	subs := tr.topics[topic]
	if sub, ok := subs[subscriberID]; ok {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast delivers evt once to every subscriber on any of topics and
// returns how many accepted it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for sid, sub := range tr.topics[topic] {
			seen[sid] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of topics with subscribers.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// ParseTopic splits "provider:prov_..." into ("provider", "prov_...").
// Global topics yield empty strings.
func ParseTopic(topic string) (kind, entityID string) {
	k, rest, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return k, rest
}

// ValidateTopic checks that topic is a known global topic or an entity
// topic carrying a well-formed ID of the right kind.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicOffers, TopicRuns, TopicFirehose:
		return nil
	}

	kind, entityID := ParseTopic(topic)
	var want id.Prefix
	switch kind {
	case "provider":
		want = id.PrefixProvider
	case "job":
		want = id.PrefixJob
	default:
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if _, err := id.ParseAs(entityID, want); err != nil {
		return fmt.Errorf("stream: invalid topic %q: %w", topic, err)
	}
	return nil
}
