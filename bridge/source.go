package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// Source is the dispatch service as seen by one provider's device. Every
// call names the provider explicitly.
type Source interface {
	// CurrentOffer returns the provider's live offer, or
	// dispatch.ErrOfferNotFound when there is none.
	CurrentOffer(ctx context.Context, providerID id.ProviderID) (*offer.Detail, error)

	// OfferDetail returns one of the provider's offers with its job.
	OfferDetail(ctx context.Context, offerID id.OfferID, providerID id.ProviderID) (*offer.Detail, error)

	// Subscribe opens the provider's push feed. The channel is closed when
	// the connection is lost or cancel is called.
	Subscribe(ctx context.Context, providerID id.ProviderID) (events <-chan *stream.Event, cancel func(), err error)
}

// OfferReader is the read side of the coordinator.
type OfferReader interface {
	CurrentOffer(ctx context.Context, providerID id.ProviderID) (*offer.Detail, error)
	OfferDetail(ctx context.Context, offerID id.OfferID, providerID id.ProviderID) (*offer.Detail, error)
}

// LocalSource serves listeners that run in the dispatch process itself,
// reading from the coordinator and the stream broker directly.
type LocalSource struct {
	OfferReader
	broker *stream.Broker
	seq    atomic.Int64
}

var _ Source = (*LocalSource)(nil)

// NewLocalSource returns a Source over an in-process coordinator and broker.
func NewLocalSource(reader OfferReader, broker *stream.Broker) *LocalSource {
	return &LocalSource{OfferReader: reader, broker: broker}
}

// Subscribe implements Source. Each call registers a fresh broker
// subscriber on the provider topic and grants it one credit back for
// every event forwarded.
func (s *LocalSource) Subscribe(ctx context.Context, providerID id.ProviderID) (<-chan *stream.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	subID := fmt.Sprintf("bridge-%s-%d", providerID, s.seq.Add(1))
	sub := s.broker.Subscribe(subID, stream.ProviderTopic(providerID.String()))

	out := make(chan *stream.Event, cap(sub.C()))
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			s.broker.RemoveSubscriber(subID)
		})
	}
	go func() {
		defer close(out)
		for evt := range sub.C() {
			sub.AddCredits(1)
			select {
			case out <- evt:
			case <-done:
				return
			}
		}
	}()
	return out, cancel, nil
}
