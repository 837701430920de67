package dwp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// Coordinator is the slice of the dispatch coordinator the protocol
// exposes to provider devices.
type Coordinator interface {
	CurrentOffer(ctx context.Context, providerID id.ProviderID) (*offer.Detail, error)
	OfferDetail(ctx context.Context, offerID id.OfferID, providerID id.ProviderID) (*offer.Detail, error)
	Accept(ctx context.Context, jobID id.JobID, providerID id.ProviderID) (*offer.Offer, error)
	Decline(ctx context.Context, jobID id.JobID, providerID id.ProviderID) (*offer.Offer, error)
}

// Handler dispatches DWP frames to coordinator operations.
type Handler struct {
	coord  Coordinator
	broker *stream.Broker
	conns  *ConnectionManager
	logger *slog.Logger
}

// NewHandler creates a new DWP method handler.
func NewHandler(coord Coordinator, broker *stream.Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coord: coord, broker: broker, logger: logger}
}

// Handle processes a single DWP request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodOfferCurrent:
		return h.handleOfferCurrent(ctx, frame, conn)
	case MethodOfferGet:
		return h.handleOfferGet(ctx, frame, conn)
	case MethodOfferAccept:
		return h.handleOfferRespond(ctx, frame, conn, h.coord.Accept)
	case MethodOfferDecline:
		return h.handleOfferRespond(ctx, frame, conn, h.coord.Decline)
	case MethodSubscribe:
		return h.handleSubscribe(frame, conn)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// ErrorCode maps a dispatch error to a wire error code.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrOfferConflict), errors.Is(err, dispatch.ErrExpiredOffer):
		return ErrCodeConflict
	case errors.Is(err, dispatch.ErrOfferNotFound), errors.Is(err, dispatch.ErrJobNotFound):
		return ErrCodeNotFound
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return ErrCodeBadRequest
	default:
		return ErrCodeInternal
	}
}

func errorFrame(frameID string, err error) *Frame {
	return NewErrorFrame(frameID, ErrorCode(err), err.Error())
}

func providerOnly(frame *Frame, conn *Connection) *Frame {
	if conn == nil || !conn.IsProvider() {
		return NewErrorFrame(frame.ID, ErrCodeForbidden, "offer methods require a provider identity")
	}
	return nil
}

func (h *Handler) handleOfferCurrent(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	if deny := providerOnly(frame, conn); deny != nil {
		return deny
	}
	d, err := h.coord.CurrentOffer(ctx, conn.ProviderID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, d)
}

func (h *Handler) handleOfferGet(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	if deny := providerOnly(frame, conn); deny != nil {
		return deny
	}
	var req OfferGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	offerID, err := id.ParseOfferID(req.OfferID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid offer ID: "+err.Error())
	}
	d, err := h.coord.OfferDetail(ctx, offerID, conn.ProviderID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, d)
}

type respondFunc func(context.Context, id.JobID, id.ProviderID) (*offer.Offer, error)

func (h *Handler) handleOfferRespond(ctx context.Context, frame *Frame, conn *Connection, respond respondFunc) *Frame {
	if deny := providerOnly(frame, conn); deny != nil {
		return deny
	}
	var req OfferRespondRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}
	o, err := respond(ctx, jobID, conn.ProviderID)
	if err != nil {
		h.logger.Debug("dwp offer response rejected",
			slog.String("method", frame.Method),
			slog.String("job_id", req.JobID),
			slog.String("provider_id", conn.ProviderID.String()),
			slog.String("error", err.Error()),
		)
		return errorFrame(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, o)
}

func (h *Handler) handleSubscribe(frame *Frame, conn *Connection) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}
	if conn == nil || !CanSubscribe(conn.Identity, req.Channel) {
		return NewErrorFrame(frame.ID, ErrCodeForbidden, "not allowed to subscribe to "+req.Channel)
	}

	// The server loop attaches the broker subscription once this succeeds.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(frame *Frame) *Frame {
	connections := 0
	if h.conns != nil {
		connections = h.conns.Count()
	}
	return mustResponseFrame(frame.ID, map[string]any{
		"broker":      h.broker.Stats(),
		"connections": connections,
	})
}
