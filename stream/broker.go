package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/run"
)

var (
	_ ext.Extension       = (*Broker)(nil)
	_ ext.OfferIssued     = (*Broker)(nil)
	_ ext.OfferResolved   = (*Broker)(nil)
	_ ext.RunStarted      = (*Broker)(nil)
	_ ext.RunAssigned     = (*Broker)(nil)
	_ ext.RunUnassignable = (*Broker)(nil)
	_ ext.RunCancelled    = (*Broker)(nil)
	_ ext.WorkAdvanced    = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker fans lifecycle events out to topic subscribers.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // id → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe registers a subscriber on topics. An existing subscriber with
// the same ID is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to more topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return true
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// Publish broadcasts evt to the firehose, the given topics and
// evt.Topic.
func (b *Broker) Publish(evt *Event, topics ...string) int {
	all := append([]string{TopicFirehose}, topics...)
	if evt.Topic != "" {
		all = append(all, evt.Topic)
	}
	delivered := b.topics.Broadcast(all, evt)
	b.totalPublished.Add(int64(delivered))
	return delivered
}

func newEvent(typ EventType, topic string, data any) *Event {
	raw, err := json.Marshal(data)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return &Event{Type: typ, Timestamp: time.Now().UTC(), Topic: topic, Data: raw}
}

func offerData(o *offer.Offer) OfferEventData {
	return OfferEventData{
		OfferID:    o.ID.String(),
		JobID:      o.JobID.String(),
		ProviderID: o.ProviderID.String(),
		Rank:       o.Rank,
		ExpiresAt:  o.ExpiresAt,
		Response:   string(o.Response),
	}
}

func runData(r *run.Run) RunEventData {
	d := RunEventData{
		JobID:      r.JobID.String(),
		State:      string(r.State),
		Candidates: r.CandidatesFound,
		Reason:     string(r.Reason),
	}
	if !r.ProviderID.IsNil() {
		d.ProviderID = r.ProviderID.String()
	}
	return d
}

// ── Offer hooks ─────────────────────────────────────

// OnOfferIssued implements ext.OfferIssued.
func (b *Broker) OnOfferIssued(_ context.Context, o *offer.Offer) error {
	b.Publish(newEvent(EventOfferIssued, ProviderTopic(o.ProviderID.String()), offerData(o)),
		TopicOffers, JobTopic(o.JobID.String()))
	return nil
}

// OnOfferResolved implements ext.OfferResolved.
func (b *Broker) OnOfferResolved(_ context.Context, o *offer.Offer) error {
	b.Publish(newEvent(EventOfferResolved, ProviderTopic(o.ProviderID.String()), offerData(o)),
		TopicOffers, JobTopic(o.JobID.String()))
	return nil
}

// ── Run hooks ───────────────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (b *Broker) OnRunStarted(_ context.Context, r *run.Run, _ []run.Candidate) error {
	b.Publish(newEvent(EventRunStarted, JobTopic(r.JobID.String()), runData(r)), TopicRuns)
	return nil
}

// OnRunAssigned implements ext.RunAssigned. The winner hears about it on
// its provider topic too.
func (b *Broker) OnRunAssigned(_ context.Context, r *run.Run) error {
	b.Publish(newEvent(EventRunAssigned, JobTopic(r.JobID.String()), runData(r)),
		TopicRuns, ProviderTopic(r.ProviderID.String()))
	return nil
}

// OnRunUnassignable implements ext.RunUnassignable.
func (b *Broker) OnRunUnassignable(_ context.Context, r *run.Run) error {
	b.Publish(newEvent(EventRunUnassignable, JobTopic(r.JobID.String()), runData(r)), TopicRuns)
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (b *Broker) OnRunCancelled(_ context.Context, jobID id.JobID) error {
	b.Publish(newEvent(EventRunCancelled, JobTopic(jobID.String()), RunEventData{
		JobID: jobID.String(),
		State: string(run.StateCancelled),
	}), TopicRuns)
	return nil
}

// ── Work hooks ──────────────────────────────────────

// OnWorkAdvanced implements ext.WorkAdvanced.
func (b *Broker) OnWorkAdvanced(_ context.Context, j *job.Job) error {
	b.Publish(newEvent(EventWorkAdvanced, JobTopic(j.ID.String()), WorkEventData{
		JobID:      j.ID.String(),
		ProviderID: j.ProviderID.String(),
		Status:     string(j.Status),
	}))
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown by closing every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		value.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
