package whatsapp

import (
	"context"

	"github.com/aelexs/archivebot/internal/domain"
)

// Quote identifies the message a reply refers to.
type Quote struct {
	MessageID string
	Sender    domain.Identity
	Body      string
}

// Client is the transport surface a Session drives. The whatsmeow adapter
// satisfies it in production; tests substitute a stub.
type Client interface {
	// Connect starts the transport. Pairing codes, authentication and
	// readiness arrive asynchronously through the handler.
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool

	Logout(ctx context.Context) error
	DeleteDevice(ctx context.Context) error

	SendText(ctx context.Context, to domain.Identity, text string) error
	SendReply(ctx context.Context, to domain.Identity, text string, quoted Quote) error

	// ResolvePhone maps a hidden-user identity to its phone-number identity.
	// Phone-number identities are returned unchanged.
	ResolvePhone(ctx context.Context, id domain.Identity) (domain.Identity, error)

	SetHandler(func(Event))
	ClearHandlers()
}

// Factory creates a fresh Client bound to the stored device identity.
type Factory func(ctx context.Context) (Client, error)
