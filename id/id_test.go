package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/CorbanSy/PropDash-sub000/id"
)

func TestGeneratedPrefixes(t *testing.T) {
	tests := []struct {
		name  string
		gen   func() id.ID
		parse func(string) (id.ID, error)
		want  string
	}{
		{"job", id.NewJobID, id.ParseJobID, "job_"},
		{"customer", id.NewCustomerID, id.ParseCustomerID, "cust_"},
		{"provider", id.NewProviderID, id.ParseProviderID, "prov_"},
		{"offer", id.NewOfferID, id.ParseOfferID, "offer_"},
		{"run", id.NewRunID, id.ParseRunID, "drun_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.gen()
			if !strings.HasPrefix(v.String(), tt.want) {
				t.Fatalf("got %q, want prefix %q", v, tt.want)
			}
			back, err := tt.parse(v.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if back != v {
				t.Errorf("round trip mismatch: %v != %v", back, v)
			}
		})
	}
}

func TestParseAsRejectsOtherKinds(t *testing.T) {
	job := id.NewJobID().String()
	if _, err := id.ParseProviderID(job); err == nil {
		t.Fatal("expected provider parse of a job ID to fail")
	}
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected empty string to fail")
	}
	if _, err := id.Parse("not an id"); err == nil {
		t.Fatal("expected garbage to fail")
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Fatal("Nil should be nil")
	}
	if id.Nil.String() != "" || id.Nil.Prefix() != "" {
		t.Error("Nil should render empty")
	}
	v, err := id.Nil.Value()
	if err != nil || v != nil {
		t.Errorf("Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestJSON(t *testing.T) {
	type row struct {
		Provider id.ProviderID `json:"provider"`
		Empty    id.ID         `json:"empty"`
	}
	in := row{Provider: id.NewProviderID()}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out row
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.Provider != in.Provider {
		t.Errorf("provider = %v, want %v", out.Provider, in.Provider)
	}
	if !out.Empty.IsNil() {
		t.Errorf("empty = %v, want Nil", out.Empty)
	}
}

func TestScan(t *testing.T) {
	orig := id.NewOfferID()
	for _, src := range []any{orig.String(), []byte(orig.String())} {
		var got id.ID
		if err := got.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if got != orig {
			t.Errorf("scan %T = %v, want %v", src, got, orig)
		}
	}

	var n id.ID
	if err := n.Scan(nil); err != nil || !n.IsNil() {
		t.Errorf("scan nil = %v, %v", n, err)
	}
	if err := n.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestCompare(t *testing.T) {
	a := id.MustParseAs("prov_01h2xcejqtf2nbrexx3vqjhp41", id.PrefixProvider)
	b := id.MustParseAs("prov_01h2xcejqtf2nbrexx3vqjhp42", id.PrefixProvider)
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Error("Compare should order by string form")
	}
}
