// Package bridge keeps a provider's device in step with the dispatch
// service. A Listener holds at most one displayed offer and follows three
// rules:
//
//   - a push that an offer was issued is only a hint; the full offer and
//     job are fetched before anything is shown
//   - a push that the displayed offer was resolved clears it, whatever the
//     outcome, and refetches the current offer in case another one is live
//   - every connect and reconnect refetches the current offer, since pushes
//     sent while disconnected are lost
//
// The offer's ExpiresAt is authoritative. Current reports nothing once it
// has passed, even if the resolution push never arrives.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/offer"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// UpdateKind says what changed on the device.
type UpdateKind string

const (
	// UpdateShown means a new offer is on screen.
	UpdateShown UpdateKind = "shown"
	// UpdateCleared means the displayed offer is gone.
	UpdateCleared UpdateKind = "cleared"
)

// Update is one change to the displayed offer.
type Update struct {
	Kind    UpdateKind    `json:"kind"`
	OfferID id.OfferID    `json:"offer_id"`
	Detail  *offer.Detail `json:"detail,omitempty"`
}

// Listener tracks the displayed offer of one provider.
type Listener struct {
	providerID id.ProviderID
	source     Source
	clock      clockwork.Clock
	logger     *slog.Logger
	limiter    *rate.Limiter
	reconnect  backoff.Strategy
	bufSize    int

	mu      sync.Mutex
	current *offer.Detail
	closed  bool

	updates chan Update
	dropped atomic.Int64
	started atomic.Bool
}

// New returns a listener for providerID. Call Run to connect.
func New(source Source, providerID id.ProviderID, opts ...Option) *Listener {
	l := &Listener{
		providerID: providerID,
		source:     source,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
		reconnect:  backoff.Exponential{Initial: time.Second, Max: 30 * time.Second, Jitter: true},
		bufSize:    16,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.updates = make(chan Update, l.bufSize)
	return l
}

// ProviderID returns the provider this listener serves.
func (l *Listener) ProviderID() id.ProviderID { return l.providerID }

// Updates delivers changes to the displayed offer. It is closed when Run
// returns. Updates are dropped when the consumer falls behind; Current
// is always accurate.
func (l *Listener) Updates() <-chan Update { return l.updates }

// Dropped returns how many updates were not delivered.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Current returns the displayed offer, or nil. An offer whose deadline has
// passed is cleared on read.
func (l *Listener) Current() *offer.Detail {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	if l.current.Offer.Due(l.clock.Now()) {
		l.clearLocked(l.current.Offer.ID)
		return nil
	}
	return l.current
}

// Run connects to the source and keeps the displayed offer in step until
// ctx is cancelled. It reconnects with backoff whenever the feed drops.
// Run may be called once.
func (l *Listener) Run(ctx context.Context) error {
	if l.started.Swap(true) {
		return errors.New("dispatch/bridge: listener already running")
	}
	defer func() {
		l.mu.Lock()
		l.closed = true
		close(l.updates)
		l.mu.Unlock()
	}()

	attempt := 0
	for {
		events, cancel, err := l.source.Subscribe(ctx, l.providerID)
		if err == nil {
			attempt = 0
			l.logger.Debug("bridge connected", slog.String("provider_id", l.providerID.String()))
			if rerr := l.Resync(ctx); rerr != nil && ctx.Err() == nil {
				l.logger.Warn("bridge resync failed",
					slog.String("provider_id", l.providerID.String()),
					slog.String("error", rerr.Error()),
				)
			}
			l.consume(ctx, events)
			cancel()
		} else if ctx.Err() == nil {
			l.logger.Warn("bridge subscribe failed",
				slog.String("provider_id", l.providerID.String()),
				slog.String("error", err.Error()),
			)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if d := l.reconnect.Delay(attempt); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(d):
			}
		}
	}
}

func (l *Listener) consume(ctx context.Context, events <-chan *stream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				l.logger.Info("bridge feed closed", slog.String("provider_id", l.providerID.String()))
				return
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *Listener) handle(ctx context.Context, evt *stream.Event) {
	switch evt.Type {
	case stream.EventOfferIssued, stream.EventOfferResolved:
	default:
		return
	}
	var data stream.OfferEventData
	if err := evt.Decode(&data); err != nil {
		l.logger.Warn("bridge: bad offer event", slog.String("error", err.Error()))
		return
	}
	offerID, err := id.ParseOfferID(data.OfferID)
	if err != nil {
		l.logger.Warn("bridge: bad offer id", slog.String("offer_id", data.OfferID))
		return
	}
	if data.ProviderID != l.providerID.String() {
		return
	}

	if evt.Type == stream.EventOfferResolved {
		l.mu.Lock()
		cleared := l.current != nil && l.current.Offer.ID == offerID
		if cleared {
			l.clearLocked(offerID)
		}
		l.mu.Unlock()
		// The provider may hold a live offer on another job.
		if cleared {
			if err := l.Resync(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("bridge resync failed",
					slog.String("provider_id", l.providerID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		return
	}

	d, err := l.source.OfferDetail(ctx, offerID, l.providerID)
	if err != nil {
		l.logger.Warn("bridge: fetch offer detail failed",
			slog.String("offer_id", offerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	l.show(d)
}

// Resync refetches the provider's current offer and replaces whatever is
// displayed. It waits on the resync rate limit.
func (l *Listener) Resync(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	d, err := l.source.CurrentOffer(ctx, l.providerID)
	if errors.Is(err, dispatch.ErrOfferNotFound) {
		l.mu.Lock()
		if l.current != nil {
			l.clearLocked(l.current.Offer.ID)
		}
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	l.show(d)
	return nil
}

// show displays d unless it can no longer be acted on.
func (l *Listener) show(d *offer.Detail) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !d.Offer.Actionable(l.clock.Now()) {
		if l.current != nil && l.current.Offer.ID == d.Offer.ID {
			l.clearLocked(d.Offer.ID)
		}
		return
	}
	if l.current != nil && l.current.Offer.ID == d.Offer.ID {
		l.current = d
		return
	}
	l.current = d
	l.emit(Update{Kind: UpdateShown, OfferID: d.Offer.ID, Detail: d})
}

func (l *Listener) clearLocked(offerID id.OfferID) {
	l.current = nil
	l.emit(Update{Kind: UpdateCleared, OfferID: offerID})
}

// emit must be called with l.mu held.
func (l *Listener) emit(u Update) {
	if !l.started.Load() || l.closed {
		return
	}
	select {
	case l.updates <- u:
	default:
		l.dropped.Add(1)
	}
}
