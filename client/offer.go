package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
)

// CurrentOffer returns the session provider's live offer. It fails with
// dispatch.ErrOfferNotFound when nothing is pending.
func (c *Client) CurrentOffer(ctx context.Context) (*offer.Detail, error) {
	var d offer.Detail
	if err := c.call(ctx, dwp.MethodOfferCurrent, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// OfferDetail fetches one of the session provider's offers with its job.
func (c *Client) OfferDetail(ctx context.Context, offerID id.OfferID) (*offer.Detail, error) {
	var d offer.Detail
	if err := c.call(ctx, dwp.MethodOfferGet, dwp.OfferGetRequest{OfferID: offerID.String()}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Accept accepts the session provider's pending offer for jobID.
func (c *Client) Accept(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	return c.respond(ctx, dwp.MethodOfferAccept, jobID)
}

// Decline declines the session provider's pending offer for jobID.
func (c *Client) Decline(ctx context.Context, jobID id.JobID) (*offer.Offer, error) {
	return c.respond(ctx, dwp.MethodOfferDecline, jobID)
}

func (c *Client) respond(ctx context.Context, method string, jobID id.JobID) (*offer.Offer, error) {
	var o offer.Offer
	if err := c.call(ctx, method, dwp.OfferRespondRequest{JobID: jobID.String()}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	resp, err := c.request(ctx, method, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}
