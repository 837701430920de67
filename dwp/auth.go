package dwp

import (
	"context"
	"errors"
	"strings"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the authenticated principal. For provider devices it is
	// the provider ID ("prov_...").
	Subject string `json:"subject"`

	// Scopes defines what operations are permitted.
	// Examples: "offer:read", "offer:write", "admin", "*"
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope returns true if the identity has the given scope.
// A wildcard "*" scope grants all permissions.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// ProviderID returns the provider the identity acts as. ok is false when
// the subject is not a provider, e.g. an operator console.
func (i *Identity) ProviderID() (pid id.ProviderID, ok bool) {
	if i == nil {
		return id.Nil, false
	}
	pid, err := id.ParseProviderID(i.Subject)
	if err != nil {
		return id.Nil, false
	}
	return pid, true
}

// Authenticator validates credentials and returns an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("dwp: unauthorized")

// ── API Key authenticator ───────────────────────────

// APIKeyEntry maps a token to an identity.
type APIKeyEntry struct {
	Token    string
	Identity Identity
}

// APIKeyAuthenticator validates API keys against a static list.
type APIKeyAuthenticator struct {
	keys map[string]*Identity
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	keys := make(map[string]*Identity, len(entries))
	for _, e := range entries {
		ident := e.Identity
		keys[e.Token] = &ident
	}
	return &APIKeyAuthenticator{keys: keys}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	ident, ok := a.keys[strings.TrimPrefix(token, "Bearer ")]
	if !ok {
		return nil, ErrUnauthorized
	}
	return ident, nil
}

// ── No-op authenticator ─────────────────────────────

// NoopAuthenticator accepts all tokens. A token that parses as a provider
// ID becomes that provider's identity; anything else is an anonymous
// wildcard identity. Use for development only.
type NoopAuthenticator struct{}

// Authenticate implements Authenticator.
func (a *NoopAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if _, err := id.ParseProviderID(token); err == nil {
		return &Identity{
			Subject: token,
			Scopes:  []string{ScopeOfferRead, ScopeOfferWrite, ScopeSubscribe},
		}, nil
	}
	return &Identity{
		Subject: "anonymous",
		Scopes:  []string{ScopeAll},
	}, nil
}

// ── Composite authenticator ─────────────────────────

// CompositeAuthenticator tries multiple authenticators in order.
// The first successful authentication wins.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator chains multiple authenticators.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{authenticators: auths}
}

// Authenticate implements Authenticator.
func (c *CompositeAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	for _, auth := range c.authenticators {
		ident, err := auth.Authenticate(ctx, token)
		if err == nil {
			return ident, nil
		}
	}
	return nil, ErrUnauthorized
}

// ── Scope constants ─────────────────────────────────

const (
	ScopeOfferRead  = "offer:read"
	ScopeOfferWrite = "offer:write"
	ScopeStatsRead  = "stats:read"
	ScopeSubscribe  = "subscribe"
	ScopeAdmin      = "admin"
	ScopeAll        = "*"
)

// RequiredScope returns the minimum scope required for a DWP method.
func RequiredScope(method string) string {
	switch method {
	case MethodAuth:
		return ""
	case MethodOfferCurrent, MethodOfferGet:
		return ScopeOfferRead
	case MethodOfferAccept, MethodOfferDecline:
		return ScopeOfferWrite
	case MethodSubscribe, MethodUnsubscribe:
		return ScopeSubscribe
	case MethodStats:
		return ScopeStatsRead
	default:
		return ScopeAdmin
	}
}

// CanSubscribe reports whether the identity may listen on topic. A
// provider may listen on its own topic only; other topics need admin.
func CanSubscribe(ident *Identity, topic string) bool {
	if ident == nil || !ident.HasScope(ScopeSubscribe) {
		return false
	}
	if ident.HasScope(ScopeAdmin) {
		return true
	}
	pid, ok := ident.ProviderID()
	return ok && topic == stream.ProviderTopic(pid.String())
}
