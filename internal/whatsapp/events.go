// Package whatsapp owns the single connection to the chat network. A Session
// wraps a transport Client, normalizes its lifecycle into a closed set of
// events and provides send/reply primitives with fallback delivery paths.
package whatsapp

import "github.com/aelexs/archivebot/internal/domain"

// EventKind enumerates the lifecycle events a session delivers to observers.
type EventKind int

const (
	EventQRChallenge EventKind = iota + 1
	EventAuthenticated
	EventReady
	EventAuthFailure
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQRChallenge:
		return "qr_challenge"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one normalized transport event. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	QRCode  string
	Reason  string
	Message *domain.InboundMessage
}

// Observer receives session events. Observers run on the transport's event
// goroutine and must not block.
type Observer func(Event)

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateAwaitingQR    State = "awaiting_qr"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateDisconnected  State = "disconnected"
	StateDestroyed     State = "destroyed"
)

// Status is the coarse health reported by Session.Status.
type Status string

const (
	StatusReady        Status = "ready"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
	StatusUnknown      Status = "unknown"
)
