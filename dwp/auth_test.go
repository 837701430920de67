package dwp

import (
	"context"
	"errors"
	"testing"

	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/stream"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	t.Parallel()

	pid := id.NewProviderID()
	auth := NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    "device-key",
		Identity: Identity{Subject: pid.String(), Scopes: []string{ScopeOfferRead}},
	})

	ident, err := auth.Authenticate(context.Background(), "device-key")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Subject != pid.String() {
		t.Errorf("Subject = %q", ident.Subject)
	}

	if _, err := auth.Authenticate(context.Background(), "Bearer device-key"); err != nil {
		t.Errorf("bearer prefix: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIdentityProviderID(t *testing.T) {
	t.Parallel()

	pid := id.NewProviderID()
	tests := []struct {
		name    string
		ident   *Identity
		wantOK  bool
		wantPID id.ProviderID
	}{
		{"provider", &Identity{Subject: pid.String()}, true, pid},
		{"customer", &Identity{Subject: id.NewCustomerID().String()}, false, id.Nil},
		{"operator", &Identity{Subject: "ops-console"}, false, id.Nil},
		{"nil", nil, false, id.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.ident.ProviderID()
			if ok != tt.wantOK || got != tt.wantPID {
				t.Errorf("ProviderID() = %v, %v; want %v, %v", got, ok, tt.wantPID, tt.wantOK)
			}
		})
	}
}

func TestRequiredScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		want   string
	}{
		{MethodAuth, ""},
		{MethodOfferCurrent, ScopeOfferRead},
		{MethodOfferGet, ScopeOfferRead},
		{MethodOfferAccept, ScopeOfferWrite},
		{MethodOfferDecline, ScopeOfferWrite},
		{MethodSubscribe, ScopeSubscribe},
		{MethodUnsubscribe, ScopeSubscribe},
		{MethodStats, ScopeStatsRead},
		{"job.cancel", ScopeAdmin},
	}
	for _, tt := range tests {
		if got := RequiredScope(tt.method); got != tt.want {
			t.Errorf("RequiredScope(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestCanSubscribe(t *testing.T) {
	t.Parallel()

	me, other := id.NewProviderID(), id.NewProviderID()
	provider := &Identity{Subject: me.String(), Scopes: []string{ScopeSubscribe}}
	admin := &Identity{Subject: "ops", Scopes: []string{ScopeSubscribe, ScopeAdmin}}
	mute := &Identity{Subject: me.String(), Scopes: []string{ScopeOfferRead}}

	tests := []struct {
		name  string
		ident *Identity
		topic string
		want  bool
	}{
		{"own topic", provider, stream.ProviderTopic(me.String()), true},
		{"other provider", provider, stream.ProviderTopic(other.String()), false},
		{"job topic", provider, stream.JobTopic(id.NewJobID().String()), false},
		{"admin any topic", admin, stream.ProviderTopic(other.String()), true},
		{"no subscribe scope", mute, stream.ProviderTopic(me.String()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSubscribe(tt.ident, tt.topic); got != tt.want {
				t.Errorf("CanSubscribe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoopAuthenticator(t *testing.T) {
	t.Parallel()

	auth := &NoopAuthenticator{}
	pid := id.NewProviderID()

	ident, err := auth.Authenticate(context.Background(), pid.String())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got, ok := ident.ProviderID(); !ok || got != pid {
		t.Errorf("provider token not mapped to provider identity: %+v", ident)
	}
	if ident.HasScope(ScopeAdmin) {
		t.Error("provider identity should not be admin")
	}

	anon, err := auth.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !anon.HasScope(ScopeAdmin) {
		t.Error("anonymous identity should carry the wildcard scope")
	}
}

func TestCompositeAuthenticator(t *testing.T) {
	t.Parallel()

	a := NewAPIKeyAuthenticator(APIKeyEntry{Token: "a", Identity: Identity{Subject: "first"}})
	b := NewAPIKeyAuthenticator(APIKeyEntry{Token: "b", Identity: Identity{Subject: "second"}})
	auth := NewCompositeAuthenticator(a, b)

	ident, err := auth.Authenticate(context.Background(), "b")
	if err != nil || ident.Subject != "second" {
		t.Errorf("Authenticate(b) = %+v, %v", ident, err)
	}
	if _, err := auth.Authenticate(context.Background(), "c"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
