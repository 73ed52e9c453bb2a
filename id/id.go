// Package id defines TypeID-based identity types for ibox entities.
//
// Every long-lived object gets a single ID struct with a prefix that
// identifies what it is. IDs are K-sortable (UUIDv7-based), globally
// unique, and URL-safe in the format "prefix_suffix", which keeps log
// lines and relay claims grep-able.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all ibox entity types.
const (
	// PrefixMessenger tags a connected messenger instance.
	PrefixMessenger Prefix = "msgr"

	// PrefixSubscription tags a bus subscription.
	PrefixSubscription Prefix = "sub"

	// PrefixClaim tags a relay port rendezvous claim.
	PrefixClaim Prefix = "claim"

	// PrefixRealm tags a relay bus membership.
	PrefixRealm Prefix = "realm"
)

// Convenience constructors, one per entity type.

// NewMessengerID returns a new messenger ID.
func NewMessengerID() ID { return New(PrefixMessenger) }

// NewSubscriptionID returns a new bus subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewClaimID returns a new relay rendezvous claim ID.
func NewClaimID() ID { return New(PrefixClaim) }

// NewRealmID returns a new relay realm membership ID.
func NewRealmID() ID { return New(PrefixRealm) }

// ID is a prefix-qualified, globally unique, sortable identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g. "claim_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and verifies it carries the expected prefix.
func ParseWithPrefix(s string, prefix Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != prefix {
		return Nil, fmt.Errorf("id: parse %q: expected prefix %q, got %q", s, prefix, parsed.Prefix())
	}
	return parsed, nil
}

// ParseClaimID parses s as a relay rendezvous claim ID.
func ParseClaimID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixClaim)
}

// MustParse parses s and panics on error. For tests and constants.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

// String returns the canonical "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity-type prefix of the ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
