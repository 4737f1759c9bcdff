package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/aelexs/archivebot/internal/domain"
)

var tracer = otel.Tracer("archivebot/whatsapp")

var (
	sendCounter     metric.Int64Counter
	fallbackCounter metric.Int64Counter
	faultCounter    metric.Int64Counter
)

func init() {
	meter := otel.Meter("archivebot/whatsapp")

	var err error
	sendCounter, err = meter.Int64Counter("whatsapp_send_total",
		metric.WithDescription("Outbound deliveries by result"),
	)
	if err != nil {
		panic(err)
	}
	fallbackCounter, err = meter.Int64Counter("whatsapp_send_fallbacks_total",
		metric.WithDescription("Outbound deliveries that used an alternate path"),
	)
	if err != nil {
		panic(err)
	}
	faultCounter, err = meter.Int64Counter("whatsapp_faults_total",
		metric.WithDescription("Transport faults classified as needing reconnect"),
	)
	if err != nil {
		panic(err)
	}
}

// SessionConfig holds the tunables of a Session.
type SessionConfig struct {
	StatusTimeout time.Duration
	SendRate      float64
	SendBurst     int
	// OnFault is invoked when a transport fault needs a reconnect. The
	// supervisor passes a debounced trigger here.
	OnFault func(reason string)
	Logger  *slog.Logger
}

// Session is one logical connection to the chat network. It is created by
// the supervisor and replaced wholesale on reconnect, never reused.
type Session struct {
	mu        sync.RWMutex
	client    Client
	state     State
	observers []Observer

	limiter       *rate.Limiter
	statusTimeout time.Duration
	onFault       func(reason string)
	logger        *slog.Logger
}

// NewSession wraps client. Nothing is started until Connect.
func NewSession(client Client, cfg SessionConfig) *Session {
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = domain.StatusTimeout
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = domain.OutboundRatePerSec
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = domain.OutboundBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnFault == nil {
		cfg.OnFault = func(string) {}
	}
	return &Session{
		client:        client,
		state:         StateUninitialized,
		limiter:       rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		statusTimeout: cfg.StatusTimeout,
		onFault:       cfg.OnFault,
		logger:        cfg.Logger.With(slog.String("component", "whatsapp_session")),
	}
}

// Observe registers an observer for lifecycle and message events.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateDestroyed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) currentClient() (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, domain.ErrSessionClosed
	}
	return s.client, nil
}

// Connect starts the transport. Lifecycle outcomes arrive through observers;
// a synchronous start failure is also delivered as an AuthFailure event.
// Not safe to call concurrently.
func (s *Session) Connect(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "whatsapp.session.connect")
	defer span.End()

	client, err := s.currentClient()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session closed")
		return err
	}

	s.setState(StateConnecting)
	client.SetHandler(s.handle)

	if err := client.Connect(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		s.handle(Event{Kind: EventAuthFailure, Reason: err.Error()})
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// handle applies the state transition for ev, then fans it out.
func (s *Session) handle(ev Event) {
	switch ev.Kind {
	case EventQRChallenge:
		s.setState(StateAwaitingQR)
	case EventAuthenticated:
		s.setState(StateAuthenticated)
	case EventReady:
		s.setState(StateReady)
	case EventAuthFailure, EventDisconnected:
		s.setState(StateDisconnected)
	}

	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, o := range observers {
		s.deliver(o, ev)
	}
}

func (s *Session) deliver(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				slog.String("event", ev.Kind.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			s.fault(fmt.Sprintf("observer panic: %v", r))
		}
	}()
	o(ev)
}

// Destroy tears the session down. Each step is guarded independently and
// the client reference is always released. Safe to call repeatedly.
func (s *Session) Destroy() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.observers = nil
	s.state = StateDestroyed
	s.mu.Unlock()

	if client == nil {
		return
	}

	s.guard("clear handlers", client.ClearHandlers)
	s.guard("disconnect", client.Disconnect)
}

func (s *Session) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("teardown step failed",
				slog.String("step", step),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

// Logout unlinks the device from the account.
func (s *Session) Logout(ctx context.Context) error {
	client, err := s.currentClient()
	if err != nil {
		return err
	}
	return client.Logout(ctx)
}

// ForgetDevice deletes the stored device identity so the next connection
// pairs from scratch.
func (s *Session) ForgetDevice(ctx context.Context) error {
	client, err := s.currentClient()
	if err != nil {
		return err
	}
	return client.DeleteDevice(ctx)
}

// Status reports connection health. It never fails: a panic or a probe that
// outlives the status timeout yields StatusDisconnected and a fault report.
func (s *Session) Status(ctx context.Context) Status {
	client, err := s.currentClient()
	if err != nil {
		return StatusDisconnected
	}
	state := s.State()
	if state == StateUninitialized {
		return StatusUnknown
	}

	type probe struct {
		connected, loggedIn bool
		panicked            any
	}
	result := make(chan probe, 1)
	go func() {
		var p probe
		defer func() {
			if r := recover(); r != nil {
				p.panicked = r
			}
			result <- p
		}()
		p.connected = client.IsConnected()
		p.loggedIn = client.IsLoggedIn()
	}()

	timer := time.NewTimer(s.statusTimeout)
	defer timer.Stop()

	select {
	case p := <-result:
		if p.panicked != nil {
			s.fault(fmt.Sprintf("status probe panicked: %v", p.panicked))
			return StatusDisconnected
		}
		switch {
		case p.connected && p.loggedIn:
			return StatusReady
		case p.connected, state == StateConnecting, state == StateAwaitingQR:
			return StatusConnecting
		default:
			return StatusDisconnected
		}
	case <-timer.C:
		s.fault("status probe timed out")
		return StatusDisconnected
	case <-ctx.Done():
		return StatusDisconnected
	}
}

// Send delivers text to the target, trying the direct path first and then
// the resolved phone-number identity. Returns false when every path fails.
func (s *Session) Send(ctx context.Context, to domain.Identity, text string) bool {
	ctx, span := tracer.Start(ctx, "whatsapp.session.send")
	defer span.End()

	err := s.send(ctx, to, text)
	s.recordSend(span, err)
	return err == nil
}

// Reply answers msg with a quoted message. On failure it falls back to a
// plain send into the chat and finally to the sender directly.
func (s *Session) Reply(ctx context.Context, msg domain.InboundMessage, text string) bool {
	ctx, span := tracer.Start(ctx, "whatsapp.session.reply")
	defer span.End()

	client, err := s.currentClient()
	if err != nil {
		s.recordSend(span, err)
		return false
	}
	chat := msg.Chat
	if chat.IsZero() {
		chat = msg.Sender
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.recordSend(span, err)
		return false
	}
	quote := Quote{MessageID: msg.ID, Sender: msg.Sender, Body: msg.Body}
	if err = client.SendReply(ctx, chat, text, quote); err == nil {
		s.recordSend(span, nil)
		return true
	}
	s.logger.Debug("quoted reply failed, falling back",
		slog.String("chat", chat.Masked()),
		slog.String("error", err.Error()),
	)
	s.classify(err)
	fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "plain")))

	err = s.send(ctx, chat, text)
	if err != nil && !msg.Sender.IsZero() && msg.Sender != chat {
		fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "sender")))
		err = s.send(ctx, msg.Sender, text)
	}
	s.recordSend(span, err)
	return err == nil
}

func (s *Session) send(ctx context.Context, to domain.Identity, text string) error {
	client, err := s.currentClient()
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	err = client.SendText(ctx, to, text)
	if err == nil {
		return nil
	}
	s.classify(err)

	resolved, rerr := client.ResolvePhone(ctx, to)
	if rerr != nil || resolved == to {
		s.logger.Warn("send failed",
			slog.String("to", to.Masked()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
	}

	fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "resolved")))
	if err2 := client.SendText(ctx, resolved, text); err2 != nil {
		s.classify(err2)
		s.logger.Warn("send failed on all paths",
			slog.String("to", to.Masked()),
			slog.String("error", errors.Join(err, err2).Error()),
		)
		return fmt.Errorf("%w: %w", domain.ErrSendFailed, err2)
	}
	return nil
}

// classify reports transport faults that need a reconnect.
func (s *Session) classify(err error) {
	if domain.NeedsReconnect(err) {
		s.fault(err.Error())
	}
}

func (s *Session) fault(reason string) {
	faultCounter.Add(context.Background(), 1)
	s.logger.Warn("transport fault", slog.String("reason", reason))
	s.onFault(reason)
}

func (s *Session) recordSend(span trace.Span, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
	}
	sendCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
