package dwp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forge"

	"github.com/CorbanSy/PropDash-sub000/stream"
)

// Server serves the dispatch wire protocol over WebSocket, SSE and HTTP
// RPC. Events reach connections through the stream broker; requests go
// to the Handler.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a new DWP server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/dwp",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	handler.conns = s.conns
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts DWP endpoints on a Forge router.
func (s *Server) RegisterRoutes(router forge.Router) {
	if err := router.WebSocket(s.basePath, s.handleWebSocket); err != nil {
		s.logger.Error("failed to register DWP WebSocket", slog.String("error", err.Error()))
	}
	if err := router.EventStream(s.basePath+"/sse", s.handleSSE); err != nil {
		s.logger.Error("failed to register DWP SSE", slog.String("error", err.Error()))
	}
	if err := router.POST(s.basePath+"/rpc", s.handleHTTPRPC); err != nil {
		s.logger.Error("failed to register DWP RPC", slog.String("error", err.Error()))
	}
}

// handleWebSocket runs one device session: auth, then a frame loop.
// Provider sessions are subscribed to their own topic on connect.
func (s *Server) handleWebSocket(ctx forge.Context, conn forge.Connection) error {
	connID := conn.ID()

	authData, readErr := conn.Read()
	if readErr != nil {
		return fmt.Errorf("dwp: read auth frame: %w", readErr)
	}

	// The auth exchange is always JSON; the codec is negotiated inside it.
	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("dwp: unmarshal auth frame: %w", err)
	}
	if authFrame.Method != MethodAuth {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("dwp: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			//nolint:errcheck // best-effort error response before disconnect
			conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return err
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx.Context(), token)
	if authErr != nil {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("dwp: auth failed: %w", authErr)
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	dwpConn := NewConnection(connID, identity, codec)
	s.conns.Add(dwpConn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("DWP session closed",
			slog.String("conn_id", connID),
			slog.String("subject", identity.Subject),
		)
	}()

	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:     codec.Name(),
		SessionID:  connID,
		ProviderID: dwpConn.ProviderID.String(),
	})
	if respErr != nil {
		return fmt.Errorf("dwp: marshal auth response: %w", respErr)
	}
	// The auth response is JSON too, so the device learns the codec
	// before it has to decode anything with it.
	if err := conn.WriteJSON(resp); err != nil {
		return fmt.Errorf("dwp: write auth response: %w", err)
	}

	var topics []string
	if dwpConn.IsProvider() {
		topic := stream.ProviderTopic(dwpConn.ProviderID.String())
		topics = append(topics, topic)
		dwpConn.AddSubscription(topic)
	}
	sub := s.broker.Subscribe(connID, topics...)
	go s.forwardEvents(conn, codec, sub)

	s.logger.Info("DWP session opened",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	for {
		data, err := conn.Read()
		if err != nil {
			return nil
		}
		dwpConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			s.reply(conn, codec, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			s.reply(conn, codec, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				s.reply(conn, codec, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		if frame.Credits > 0 && frame.Method == "" {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := s.handler.Handle(ctx.Context(), frame, dwpConn)
		if respFrame == nil {
			continue
		}
		if respFrame.Type == FrameResponse {
			s.applySubscription(frame, dwpConn, sub)
		}
		s.reply(conn, codec, respFrame)
	}
}

// applySubscription attaches or detaches broker topics after the handler
// accepted a subscribe or unsubscribe request.
func (s *Server) applySubscription(frame *Frame, dwpConn *Connection, sub *stream.Subscriber) {
	switch frame.Method {
	case MethodSubscribe:
		var req SubscribeRequest
		if json.Unmarshal(frame.Data, &req) == nil {
			s.broker.SubscribeTo(dwpConn.ID, req.Channel)
			dwpConn.AddSubscription(req.Channel)
			if req.Credits > 0 {
				sub.AddCredits(int64(req.Credits))
			}
		}
	case MethodUnsubscribe:
		var req UnsubscribeRequest
		if json.Unmarshal(frame.Data, &req) == nil {
			s.broker.Unsubscribe(dwpConn.ID, req.Channel)
			dwpConn.RemoveSubscription(req.Channel)
		}
	}
}

// forwardEvents relays broker events to the connection until the
// subscriber closes or a write fails.
func (s *Server) forwardEvents(conn forge.Connection, codec Codec, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := s.writeFrame(conn, codec, evtFrame); writeErr != nil {
			return
		}
	}
}

func (s *Server) reply(conn forge.Connection, codec Codec, frame *Frame) {
	if err := s.writeFrame(conn, codec, frame); err != nil {
		s.logger.Warn("failed to write DWP frame",
			slog.String("type", string(frame.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// writeFrame encodes and writes a frame to a Forge connection.
func (s *Server) writeFrame(conn forge.Connection, codec Codec, frame *Frame) error {
	if codec.Name() == CodecNameJSON {
		return conn.WriteJSON(frame)
	}
	data, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	return conn.Write(data)
}

// handleSSE serves read-only events for devices that cannot hold a
// WebSocket. Providers get their own topic; the channel parameter is
// only needed by operators.
func (s *Server) handleSSE(ctx forge.Context, sseStream forge.Stream) error {
	identity, err := s.auth.Authenticate(ctx.Context(), ctx.Query("token"))
	if err != nil {
		return fmt.Errorf("dwp: SSE auth failed: %w", err)
	}

	channel := ctx.Query("channel")
	if channel == "" {
		pid, ok := identity.ProviderID()
		if !ok {
			return errors.New("dwp: SSE channel parameter required")
		}
		channel = stream.ProviderTopic(pid.String())
	}
	if !CanSubscribe(identity, channel) {
		return errors.New("dwp: SSE insufficient permissions")
	}

	connID := "sse-" + GenerateFrameID()
	sub := s.broker.Subscribe(connID, channel)
	defer s.broker.RemoveSubscriber(connID)

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if sendErr := sseStream.SendJSON(string(evt.Type), evt); sendErr != nil {
				return sendErr
			}
			if flushErr := sseStream.Flush(); flushErr != nil {
				return flushErr
			}
			sub.AddCredits(1)
		case <-sseStream.Context().Done():
			return nil
		}
	}
}

// handleHTTPRPC handles one-shot requests, e.g. an accept tapped from a
// push notification before the socket is up.
func (s *Server) handleHTTPRPC(ctx forge.Context) error {
	var frame Frame
	if err := ctx.Bind(&frame); err != nil {
		return ctx.Status(400).JSON(NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
	}

	token := frame.Token
	if token == "" {
		token = ctx.Header("Authorization")
	}
	identity, err := s.auth.Authenticate(ctx.Context(), token)
	if err != nil {
		return ctx.Status(401).JSON(NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
	}

	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		return ctx.Status(403).JSON(NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
	}
	if frame.Method == MethodSubscribe || frame.Method == MethodUnsubscribe {
		return ctx.Status(400).JSON(NewErrorFrame(frame.ID, ErrCodeBadRequest, frame.Method+" needs a streaming connection"))
	}

	conn := NewConnection("rpc-"+GenerateFrameID(), identity, &JSONCodec{})
	resp := s.handler.Handle(ctx.Context(), &frame, conn)
	if resp == nil {
		return ctx.NoContent(204)
	}

	status := 200
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = 500
		}
	}
	return ctx.Status(status).JSON(resp)
}
