package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/CorbanSy/PropDash-sub000/bridge"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

var _ bridge.Source = (*Source)(nil)

// Source adapts a remote dispatch service to bridge.Source. It keeps one
// session open and dials a new one whenever the last has ended.
type Source struct {
	url  string
	opts []Option

	mu   sync.Mutex
	live *Client
}

// NewSource returns a Source that dials url with opts on first use.
func NewSource(url string, opts ...Option) *Source {
	return &Source{url: url, opts: opts}
}

// session returns the live client, dialing when there is none.
func (s *Source) session(ctx context.Context, providerID id.ProviderID) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		select {
		case <-s.live.Done():
			s.live = nil
		default:
		}
	}
	if s.live == nil {
		c, err := DialContext(ctx, s.url, s.opts...)
		if err != nil {
			return nil, err
		}
		s.live = c
	}
	if s.live.ProviderID() != providerID {
		return nil, fmt.Errorf("dispatch/client: session is %q, not provider %q",
			s.live.ProviderID(), providerID)
	}
	return s.live, nil
}

// CurrentOffer implements bridge.Source.
func (s *Source) CurrentOffer(ctx context.Context, providerID id.ProviderID) (*offer.Detail, error) {
	c, err := s.session(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return c.CurrentOffer(ctx)
}

// OfferDetail implements bridge.Source.
func (s *Source) OfferDetail(ctx context.Context, offerID id.OfferID, providerID id.ProviderID) (*offer.Detail, error) {
	c, err := s.session(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return c.OfferDetail(ctx, offerID)
}

// Subscribe implements bridge.Source. The feed closes when the session
// drops; cancel ends the session.
func (s *Source) Subscribe(ctx context.Context, providerID id.ProviderID) (<-chan *stream.Event, func(), error) {
	c, err := s.session(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	events, err := c.SubscribeOffers(ctx)
	if err != nil {
		return nil, nil, err
	}
	return events, func() { _ = c.Close() }, nil
}

// Close ends the live session, if any.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return nil
	}
	err := s.live.Close()
	s.live = nil
	return err
}
