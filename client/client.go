// Package client connects a provider device to a remote dispatch service
// over the dispatch wire protocol (DWP) on WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://dispatch.example.com/dwp",
//	    client.WithToken(deviceKey),
//	)
//	defer c.Close()
//
//	d, err := c.CurrentOffer(ctx)
//	if err == nil {
//	    _, err = c.Accept(ctx, d.Job.ID)
//	}
//
// A Client does not reconnect. When the socket drops, subscription
// channels close and Done fires; Source redials on the next call, and a
// bridge.Listener over a Source handles the reconnect loop.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/CorbanSy/PropDash-sub000/dwp"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// ErrClosed is returned by calls on a closed or disconnected client.
var ErrClosed = errors.New("dispatch/client: connection closed")

// Client is one authenticated DWP session.
type Client struct {
	url         string
	token       string
	format      string
	codec       dwp.Codec
	logger      *slog.Logger
	authTimeout time.Duration
	creditBatch int

	conn       net.Conn
	wmu        sync.Mutex
	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	sessionID  string
	providerID id.ProviderID

	// Request-response correlation.
	pending sync.Map // frameID → chan *dwp.Frame

	smu  sync.Mutex
	subs map[string]chan *stream.Event

	received atomic.Int64
}

// Dial connects to a DWP server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a DWP server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:         url,
		format:      dwp.CodecNameJSON,
		logger:      slog.Default(),
		authTimeout: 10 * time.Second,
		creditBatch: 64,
		done:        make(chan struct{}),
		subs:        make(map[string]chan *stream.Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = dwp.GetCodec(c.format)

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("dispatch/client: dial: %w", err)
	}
	go c.readLoop()
	return c, nil
}

// connect opens the socket and runs the auth exchange. The auth frame is
// always JSON; every later frame uses the negotiated codec.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	authFrame, err := dwp.NewRequestFrame(dwp.GenerateFrameID(), dwp.MethodAuth, dwp.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", err)
	}
	authFrame.Token = c.token
	raw, err := json.Marshal(authFrame)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := wsutil.WriteClientText(conn, raw); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", err)
	}

	type readResult struct {
		resp *dwp.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		frame, readErr := c.readFrame(&dwp.JSONCodec{})
		resultCh <- readResult{resp: frame, err: readErr}
	}()

	timer := time.NewTimer(c.authTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return fmt.Errorf("read auth response: %w", result.err)
		}
		if result.resp.Type == dwp.FrameErr {
			_ = conn.Close()
			return frameError(result.resp)
		}
		var authResp dwp.AuthResponse
		if len(result.resp.Data) > 0 {
			if uerr := json.Unmarshal(result.resp.Data, &authResp); uerr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", uerr.Error()))
			}
		}
		if authResp.Format != "" {
			c.codec = dwp.GetCodec(authResp.Format)
		}
		c.sessionID = authResp.SessionID
		if authResp.ProviderID != "" {
			if pid, perr := id.ParseProviderID(authResp.ProviderID); perr == nil {
				c.providerID = pid
			}
		}
		c.logger.Info("DWP client connected",
			slog.String("session_id", c.sessionID),
			slog.String("provider_id", authResp.ProviderID),
			slog.String("format", authResp.Format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-timer.C:
		_ = conn.Close()
		return errors.New("auth timeout")
	}
}

// readFrame decodes the next message with codec. The server may send
// binary frames as text messages, so the opcode is not consulted.
func (c *Client) readFrame(codec dwp.Codec) (*dwp.Frame, error) {
	data, _, err := wsutil.ReadServerData(c.conn)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// readLoop routes frames until the socket fails, then tears the session
// down so that callers see closed subscription channels.
func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		frame, err := c.readFrame(c.codec)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("DWP client read error", slog.String("error", err.Error()))
			}
			return
		}

		switch frame.Type {
		case dwp.FrameResponse, dwp.FrameErr, dwp.FramePong:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *dwp.Frame) //nolint:errcheck // pending map always stores chan *dwp.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case dwp.FrameEvent:
			c.deliver(frame)
		}
	}
}

func (c *Client) deliver(frame *dwp.Frame) {
	var evt stream.Event
	if err := json.Unmarshal(frame.Data, &evt); err != nil {
		c.logger.Warn("DWP client: invalid event", slog.String("error", err.Error()))
		return
	}

	c.smu.Lock()
	ch, ok := c.subs[frame.Channel]
	if ok {
		select {
		case ch <- &evt:
		default:
			c.logger.Warn("DWP client: subscriber slow, event dropped",
				slog.String("channel", frame.Channel),
				slog.String("type", string(evt.Type)),
			)
		}
	}
	c.smu.Unlock()

	// Return flow-control credits in batches.
	if n := c.received.Add(1); c.creditBatch > 0 && n%int64(c.creditBatch) == 0 {
		credit := &dwp.Frame{
			ID:        dwp.GenerateFrameID(),
			Type:      dwp.FrameRequest,
			Credits:   c.creditBatch,
			Timestamp: time.Now().UTC(),
		}
		if err := c.writeFrame(credit); err != nil {
			c.logger.Debug("DWP client: credit frame failed", slog.String("error", err.Error()))
		}
	}
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*dwp.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	frame, err := dwp.NewRequestFrame(dwp.GenerateFrameID(), method, data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	respCh := make(chan *dwp.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == dwp.FrameErr {
			return nil, frameError(resp)
		}
		return resp, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame encodes and sends a frame with the negotiated codec.
func (c *Client) writeFrame(frame *dwp.Frame) error {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	op := ws.OpText
	if c.codec.Name() == dwp.CodecNameMsgpack {
		op = ws.OpBinary
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientMessage(c.conn, op, data)
}

// Ping round-trips a ping frame.
func (c *Client) Ping(ctx context.Context) error {
	frame := &dwp.Frame{ID: dwp.GenerateFrameID(), Type: dwp.FramePing, Timestamp: time.Now().UTC()}
	respCh := make(chan *dwp.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return err
	}
	select {
	case <-respCh:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// ProviderID returns the provider the session acts as, or the nil ID for
// non-provider sessions.
func (c *Client) ProviderID() id.ProviderID { return c.providerID }

// Done is closed when the session ends, by Close or by a socket error.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.conn.Close()
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.Close()

		c.smu.Lock()
		for channel, ch := range c.subs {
			close(ch)
			delete(c.subs, channel)
		}
		c.smu.Unlock()
	})
}
