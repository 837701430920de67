package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is
// called. Providers may subscribe to their own topic only.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *stream.Event, error) {
	ch := make(chan *stream.Event, 64)

	// Register before the request so events sent right after the
	// server attaches the topic are not lost.
	c.smu.Lock()
	if c.closed.Load() {
		c.smu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.subs[channel]; exists {
		c.smu.Unlock()
		return nil, fmt.Errorf("dispatch/client: already subscribed to %q", channel)
	}
	c.subs[channel] = ch
	c.smu.Unlock()

	if _, err := c.request(ctx, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: channel}); err != nil {
		c.drop(channel)
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}
	return ch, nil
}

// SubscribeOffers subscribes to the session provider's own topic.
func (c *Client) SubscribeOffers(ctx context.Context) (<-chan *stream.Event, error) {
	if c.providerID.IsNil() {
		return nil, fmt.Errorf("dispatch/client: session is not a provider")
	}
	return c.Subscribe(ctx, stream.ProviderTopic(c.providerID.String()))
}

// Unsubscribe removes a subscription. The local channel is closed even
// when the request fails.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, dwp.MethodUnsubscribe, dwp.UnsubscribeRequest{Channel: channel})
	c.drop(channel)
	return err
}

func (c *Client) drop(channel string) {
	c.smu.Lock()
	if ch, ok := c.subs[channel]; ok {
		close(ch)
		delete(c.subs, channel)
	}
	c.smu.Unlock()
}

// Stats retrieves broker and connection statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, dwp.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
