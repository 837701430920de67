// Package id defines the TypeID identifiers used across the dispatch
// protocol. Each entity kind carries its own prefix, so a provider ID can
// never be mistaken for a job ID once parsed.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity kind encoded in an ID.
type Prefix string

const (
	PrefixJob      Prefix = "job"
	PrefixCustomer Prefix = "cust"
	PrefixProvider Prefix = "prov"
	PrefixOffer    Prefix = "offer"
	PrefixRun      Prefix = "drun"
)

// ID is a prefix-qualified, K-sortable identifier ("prov_01h...").
//
//nolint:recvcheck // pointer receivers only where the value is replaced.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the zero ID.
var Nil ID

type (
	// JobID identifies a posted job.
	JobID = ID
	// CustomerID identifies the customer who posted a job.
	CustomerID = ID
	// ProviderID identifies a provider in the directory.
	ProviderID = ID
	// OfferID identifies a single offer lease.
	OfferID = ID
	// RunID identifies the dispatch run of one job.
	RunID = ID
)

// New returns a fresh ID for prefix. An invalid prefix is a programming
// error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, ok: true}
}

func NewJobID() ID      { return New(PrefixJob) }
func NewCustomerID() ID { return New(PrefixCustomer) }
func NewProviderID() ID { return New(PrefixProvider) }
func NewOfferID() ID    { return New(PrefixOffer) }
func NewRunID() ID      { return New(PrefixRun) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, ok: true}, nil
}

// ParseAs parses s and rejects it unless its prefix is want.
func ParseAs(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

// MustParseAs is ParseAs for literals in tests and fixtures.
func MustParseAs(s string, want Prefix) ID {
	v, err := ParseAs(s, want)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseJobID(s string) (ID, error)      { return ParseAs(s, PrefixJob) }
func ParseCustomerID(s string) (ID, error) { return ParseAs(s, PrefixCustomer) }
func ParseProviderID(s string) (ID, error) { return ParseAs(s, PrefixProvider) }
func ParseOfferID(s string) (ID, error)    { return ParseAs(s, PrefixOffer) }
func ParseRunID(s string) (ID, error)      { return ParseAs(s, PrefixRun) }

// String renders the ID, or "" for Nil.
func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

// Prefix reports the entity kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.ok }

// Compare orders IDs by their string form. Ranking uses it as the final
// deterministic tie-breaker.
func (i ID) Compare(other ID) int {
	return strings.Compare(i.String(), other.String())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.ok {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
