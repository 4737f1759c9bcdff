package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	userServer  = "s.whatsapp.net"
	groupServer = "g.us"
)

// Identity is a transport-level address such as "15551234567@s.whatsapp.net".
// Always valid in memory - use NewIdentity to construct.
type Identity struct {
	value string
}

// NewIdentity validates raw as "<user>@<server>".
func NewIdentity(raw string) (Identity, error) {
	user, server, ok := strings.Cut(raw, "@")
	if !ok || user == "" || server == "" {
		return Identity{}, fmt.Errorf("identity %q: %w", raw, ErrInvalidIdentity)
	}
	return Identity{value: raw}, nil
}

// MustIdentity creates an Identity, panicking on invalid input. Use only in tests.
func MustIdentity(raw string) Identity {
	id, err := NewIdentity(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// IdentityFromPhone builds the user identity for a bare phone number.
func IdentityFromPhone(phone string) (Identity, error) {
	return NewIdentity(strings.TrimPrefix(phone, "+") + "@" + userServer)
}

func (i Identity) String() string { return i.value }
func (i Identity) IsZero() bool   { return i.value == "" }

// User returns the part before the server suffix.
func (i Identity) User() string {
	user, _, _ := strings.Cut(i.value, "@")
	return user
}

// IsGroup reports whether the identity addresses a group conversation.
func (i Identity) IsGroup() bool {
	return strings.HasSuffix(i.value, "@"+groupServer)
}

// Masked returns the identity with all but the last 4 user digits hidden,
// suitable for logs.
func (i Identity) Masked() string {
	user := i.User()
	if len(user) <= 4 {
		return "****"
	}
	return "***" + user[len(user)-4:]
}

// MessageIdentity returns the dedup key for an inbound message: the
// transport-provided id when present, otherwise sender plus timestamp.
func MessageIdentity(transportID string, sender Identity, ts time.Time) string {
	if transportID != "" {
		return transportID
	}
	return sender.String() + "|" + strconv.FormatInt(ts.UnixMilli(), 10)
}
