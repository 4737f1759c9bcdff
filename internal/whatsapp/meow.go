package whatsapp

import (
	"context"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver for the device store
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/aelexs/archivebot/internal/domain"
)

// OpenStore opens the sqlite-backed device store at path.
func OpenStore(ctx context.Context, path string, log waLog.Logger) (*sqlstore.Container, error) {
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+path+"?_foreign_keys=on", log.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open device store %s: %w", path, err)
	}
	return container, nil
}

// NewFactory returns a Factory building whatsmeow clients for the first
// device in container. A fresh device is created when none is stored.
func NewFactory(container *sqlstore.Container, log waLog.Logger) Factory {
	return func(ctx context.Context) (Client, error) {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		return &meowClient{cli: whatsmeow.NewClient(device, log.Sub("Client"))}, nil
	}
}

// NewDeviceWiper returns a function deleting the stored device from
// container without needing a live client. An unpaired store is left as is.
func NewDeviceWiper(container *sqlstore.Container) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return fmt.Errorf("load device: %w", err)
		}
		if device.ID == nil {
			return nil
		}
		if err := device.Delete(ctx); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return nil
	}
}

// meowClient adapts *whatsmeow.Client to Client.
type meowClient struct {
	cli *whatsmeow.Client

	mu          sync.Mutex
	handler     func(Event)
	cancelPair  context.CancelFunc
	haveHandler bool
}

func (m *meowClient) emit(ev Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (m *meowClient) SetHandler(h func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	if !m.haveHandler {
		m.cli.AddEventHandler(m.onEvent)
		m.haveHandler = true
	}
}

func (m *meowClient) ClearHandlers() {
	m.mu.Lock()
	m.handler = nil
	m.haveHandler = false
	m.mu.Unlock()
	m.cli.RemoveEventHandlers()
}

func (m *meowClient) Connect(_ context.Context) error {
	if m.cli.Store.ID != nil {
		return m.cli.Connect()
	}

	// The pairing channel outlives the caller's context; Disconnect cancels it.
	pairCtx, cancel := context.WithCancel(context.Background())
	qrChan, err := m.cli.GetQRChannel(pairCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("pairing channel: %w", err)
	}
	m.mu.Lock()
	m.cancelPair = cancel
	m.mu.Unlock()

	if err := m.cli.Connect(); err != nil {
		cancel()
		return err
	}
	go m.forwardPairing(qrChan)
	return nil
}

func (m *meowClient) forwardPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			m.emit(Event{Kind: EventQRChallenge, QRCode: item.Code})
		case "success":
			m.emit(Event{Kind: EventAuthenticated})
		case "timeout":
			m.emit(Event{Kind: EventAuthFailure, Reason: "qr timeout"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			m.emit(Event{Kind: EventAuthFailure, Reason: reason})
		}
	}
}

func (m *meowClient) onEvent(raw any) {
	switch v := raw.(type) {
	case *events.Connected:
		m.emit(Event{Kind: EventReady})
	case *events.PairSuccess:
		m.emit(Event{Kind: EventAuthenticated})
	case *events.Disconnected:
		m.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	case *events.LoggedOut:
		m.emit(Event{Kind: EventAuthFailure, Reason: "logged out: " + v.Reason.String()})
	case *events.ConnectFailure:
		m.emit(Event{Kind: EventAuthFailure, Reason: "connect failure: " + v.Reason.String()})
	case *events.StreamReplaced:
		m.emit(Event{Kind: EventAuthFailure, Reason: "stream replaced"})
	case *events.TemporaryBan:
		m.emit(Event{Kind: EventAuthFailure, Reason: v.String()})
	case *events.Message:
		if msg, ok := m.inbound(v); ok {
			m.emit(Event{Kind: EventMessage, Message: &msg})
		}
	}
}

// inbound normalizes a whatsmeow message event. Events whose addresses do
// not parse are dropped.
func (m *meowClient) inbound(v *events.Message) (domain.InboundMessage, bool) {
	sender, err := domain.NewIdentity(v.Info.Sender.ToNonAD().String())
	if err != nil {
		return domain.InboundMessage{}, false
	}
	chat, err := domain.NewIdentity(v.Info.Chat.String())
	if err != nil {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        v.Info.ID,
		Sender:    sender,
		Chat:      chat,
		Timestamp: v.Info.Timestamp,
		IsGroup:   v.Info.IsGroup,
		FromMe:    v.Info.IsFromMe,
	}

	body := v.Message
	switch {
	case body.GetConversation() != "":
		msg.Body = body.GetConversation()
	case body.GetExtendedTextMessage() != nil:
		msg.Body = body.GetExtendedTextMessage().GetText()
	case body.GetImageMessage() != nil:
		img := body.GetImageMessage()
		msg.Body = img.GetCaption()
		msg.Attachment = m.attachment(img, img.GetMimetype(), "", img.GetFileLength())
	case body.GetDocumentMessage() != nil:
		doc := body.GetDocumentMessage()
		msg.Body = doc.GetCaption()
		msg.Attachment = m.attachment(doc, doc.GetMimetype(), doc.GetFileName(), doc.GetFileLength())
	case body.GetVideoMessage() != nil:
		vid := body.GetVideoMessage()
		msg.Body = vid.GetCaption()
		msg.Attachment = m.attachment(vid, vid.GetMimetype(), "", vid.GetFileLength())
	case body.GetAudioMessage() != nil:
		aud := body.GetAudioMessage()
		msg.Attachment = m.attachment(aud, aud.GetMimetype(), "", aud.GetFileLength())
	}
	return msg, true
}

func (m *meowClient) attachment(d whatsmeow.DownloadableMessage, mimeType, name string, size uint64) *domain.Attachment {
	return domain.NewAttachment(mimeType, name, int64(size), func(ctx context.Context) ([]byte, error) {
		return m.cli.Download(ctx, d)
	})
}

func (m *meowClient) Disconnect() {
	m.mu.Lock()
	cancel := m.cancelPair
	m.cancelPair = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.cli.Disconnect()
}

func (m *meowClient) IsConnected() bool { return m.cli.IsConnected() }
func (m *meowClient) IsLoggedIn() bool  { return m.cli.IsLoggedIn() }

func (m *meowClient) Logout(ctx context.Context) error {
	return m.cli.Logout(ctx)
}

func (m *meowClient) DeleteDevice(ctx context.Context) error {
	return m.cli.Store.Delete(ctx)
}

func (m *meowClient) SendText(ctx context.Context, to domain.Identity, text string) error {
	jid, err := types.ParseJID(to.String())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidIdentity, err)
	}
	return m.transportErr(m.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)}))
}

func (m *meowClient) SendReply(ctx context.Context, to domain.Identity, text string, quoted Quote) error {
	jid, err := types.ParseJID(to.String())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidIdentity, err)
	}
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(quoted.MessageID),
				Participant:   proto.String(quoted.Sender.String()),
				QuotedMessage: &waE2E.Message{Conversation: proto.String(quoted.Body)},
			},
		},
	}
	return m.transportErr(m.cli.SendMessage(ctx, jid, msg))
}

// transportErr tags errors raised while the socket is down so callers can
// classify them as reconnect-worthy.
func (m *meowClient) transportErr(_ whatsmeow.SendResponse, err error) error {
	if err == nil {
		return nil
	}
	if !m.cli.IsConnected() {
		return fmt.Errorf("%w: %w", domain.ErrNotConnected, err)
	}
	return err
}

func (m *meowClient) ResolvePhone(ctx context.Context, id domain.Identity) (domain.Identity, error) {
	jid, err := types.ParseJID(id.String())
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrInvalidIdentity, err)
	}
	if jid.Server != types.HiddenUserServer {
		return domain.NewIdentity(jid.ToNonAD().String())
	}
	pn, err := m.cli.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve %s: %w", id.Masked(), err)
	}
	if pn.User == "" {
		return domain.Identity{}, fmt.Errorf("resolve %s: %w", id.Masked(), domain.ErrNotFound)
	}
	return domain.NewIdentity(pn.ToNonAD().String())
}

var _ Client = (*meowClient)(nil)
