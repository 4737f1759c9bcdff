// Package supervisor owns the current transport session and serializes its
// replacement. Disconnects, failed health probes and admin requests all
// funnel into one reconnect sequence guarded by a single compare-and-swap.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/pairing"
	"github.com/aelexs/archivebot/internal/whatsapp"
)

var tracer = otel.Tracer("archivebot/supervisor")

var (
	reconnectCounter metric.Int64Counter
	probeCounter     metric.Int64Counter
)

func init() {
	meter := otel.Meter("archivebot/supervisor")

	var err error
	reconnectCounter, err = meter.Int64Counter("supervisor_reconnects_total",
		metric.WithDescription("Reconnect sequences by trigger and outcome"),
	)
	if err != nil {
		panic(err)
	}
	probeCounter, err = meter.Int64Counter("supervisor_health_probes_total",
		metric.WithDescription("Health probes by observed transport status"),
	)
	if err != nil {
		panic(err)
	}
}

// Phase is the supervisor state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseReconnecting
	PhaseCoolingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// Trigger names what asked for a reconnect.
type Trigger string

const (
	TriggerFault Trigger = "fault"
	TriggerProbe Trigger = "health_probe"
	TriggerAdmin Trigger = "admin"
	TriggerReset Trigger = "reset"
)

// HealthReporter mirrors transport readiness into the process health check.
type HealthReporter interface {
	SetServing(serving bool)
}

// LifecyclePublisher fans session lifecycle events out to other processes.
type LifecyclePublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
}

// LifecycleEvent is the published form of a session event.
type LifecycleEvent struct {
	Kind   string    `json:"kind"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Alerter notifies an operator when a reconnect fails.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// Config wires the supervisor. Zero durations fall back to the compiled
// design values.
type Config struct {
	Factory  whatsapp.Factory
	Session  whatsapp.SessionConfig
	Gate     *pairing.Gate
	Artifact *pairing.Artifact

	// WipeDevice deletes the stored device during a full reset when no
	// live session can do it.
	WipeDevice func(ctx context.Context) error

	// OnMessage receives every inbound message of the current session.
	OnMessage func(msg domain.InboundMessage)

	Health    HealthReporter
	Lifecycle LifecyclePublisher
	Alerter   Alerter

	Settle        time.Duration
	Cooldown      time.Duration
	Teardown      time.Duration
	ProbeEvery    time.Duration
	Inactivity    time.Duration
	FaultDebounce time.Duration

	Clock  domain.Clock
	Logger *slog.Logger
}

// Supervisor is the single owner of the current session reference.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	phase atomic.Int32

	mu            sync.RWMutex
	current       *whatsapp.Session
	attempts      int
	lastAttemptAt time.Time
	cooldownUntil time.Time
	lastHealthyAt time.Time
	lastProbeAt   time.Time
	lastStatus    whatsapp.Status
	probed        *whatsapp.Session
	startedAt     time.Time

	faults  *whatsapp.Debouncer
	baseCtx context.Context
	bgWG    sync.WaitGroup
}

func New(cfg Config) *Supervisor {
	if cfg.Settle <= 0 {
		cfg.Settle = domain.SettleDelay
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = domain.ReconnectCooldown
	}
	if cfg.Teardown <= 0 {
		cfg.Teardown = domain.TeardownTimeout
	}
	if cfg.ProbeEvery <= 0 {
		cfg.ProbeEvery = domain.HealthProbeEvery
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = domain.InactivityTrigger
	}
	if cfg.FaultDebounce <= 0 {
		cfg.FaultDebounce = domain.FaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(domain.InboundMessage) {}
	}

	s := &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "supervisor")),
		baseCtx: context.Background(),
	}
	s.faults = whatsapp.NewDebouncer(cfg.FaultDebounce, func(reason string) {
		s.request(TriggerFault, reason, false)
	})
	return s
}

// Start creates and connects the first session. ctx bounds the supervisor's
// background work for its whole lifetime.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.startedAt = s.cfg.Clock.Now()
	s.mu.Unlock()

	session, err := s.connectSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.swap(session)
	return nil
}

// Current returns the live session, or nil while none is installed. Callers
// must not hold the reference beyond a single operation.
func (s *Supervisor) Current() *whatsapp.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Phase returns the current supervisor state.
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

// RequestReconnect schedules a reconnect and returns immediately.
// ErrReconnectInProgress is returned while a sequence or its cooldown runs.
func (s *Supervisor) RequestReconnect(reason string) error {
	return s.request(TriggerAdmin, reason, false)
}

// RequestReset schedules a full reset: logout, device wipe and a reconnect
// that pairs from scratch.
func (s *Supervisor) RequestReset(reason string) error {
	return s.request(TriggerReset, reason, true)
}

// ReportFault feeds a fault into the debounced reconnect path. Used by the
// process-level panic guard.
func (s *Supervisor) ReportFault(reason string) {
	s.faults.Trigger(reason)
}

// Recover is deferred at goroutine roots that touch the transport. A
// recovered panic is logged and reported as a fault instead of crashing
// the process.
func (s *Supervisor) Recover(where string) {
	if r := recover(); r != nil {
		s.logger.Error("recovered panic",
			slog.String("where", where),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		s.ReportFault(fmt.Sprintf("panic in %s: %v", where, r))
	}
}

func (s *Supervisor) request(trigger Trigger, reason string, wipe bool) error {
	if !s.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseReconnecting)) {
		s.logger.Info("reconnect request ignored",
			slog.String("trigger", string(trigger)),
			slog.String("phase", s.Phase().String()),
		)
		reconnectCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("trigger", string(trigger)),
			attribute.String("outcome", "rejected"),
		))
		return domain.ErrReconnectInProgress
	}

	s.mu.Lock()
	s.attempts++
	s.lastAttemptAt = s.cfg.Clock.Now()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.logger.Warn("reconnect scheduled",
		slog.String("trigger", string(trigger)),
		slog.String("reason", reason),
	)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.run(ctx, trigger, reason, wipe)
	}()
	return nil
}

// run executes one reconnect sequence followed by the cooldown. The phase
// only returns to idle once the cooldown has elapsed.
func (s *Supervisor) run(ctx context.Context, trigger Trigger, reason string, wipe bool) {
	defer s.phase.Store(int32(PhaseIdle))

	ctx, span := tracer.Start(ctx, "supervisor.reconnect")
	span.SetAttributes(
		attribute.String("trigger", string(trigger)),
		attribute.String("reason", reason),
	)

	outcome := "connected"
	if err := s.reconnect(ctx, wipe); err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconnect failed")
		s.logger.Error("reconnect failed", slog.String("error", err.Error()))
		s.notify(ctx, "WhatsApp reconnect failed", err.Error())
	}
	span.End()
	reconnectCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", string(trigger)),
		attribute.String("outcome", outcome),
	))

	s.phase.Store(int32(PhaseCoolingDown))
	s.mu.Lock()
	s.cooldownUntil = s.cfg.Clock.Now().Add(s.cfg.Cooldown)
	s.mu.Unlock()

	if !sleep(ctx, s.cfg.Cooldown) {
		return
	}
	s.logger.Info("reconnect cooldown elapsed")
}

func (s *Supervisor) reconnect(ctx context.Context, wipe bool) error {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.mu.Unlock()

	if s.cfg.Health != nil {
		s.cfg.Health.SetServing(false)
	}

	if wipe {
		s.wipe(ctx, old)
	}
	s.teardown(old)

	if !sleep(ctx, s.cfg.Settle) {
		return ctx.Err()
	}
	if s.cfg.Gate != nil {
		s.cfg.Gate.Reset()
	}

	session, err := s.connectSession(ctx)
	if err != nil {
		return err
	}
	s.swap(session)
	return nil
}

// wipe unlinks the device so the next session starts a fresh pairing.
// Every step is best effort. The store-level wipe runs whenever the old
// session could not forget the device itself.
func (s *Supervisor) wipe(ctx context.Context, old *whatsapp.Session) {
	forgotten := false
	if old != nil {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.Teardown)
		if err := old.Logout(wctx); err != nil {
			s.logger.Warn("logout failed during reset", slog.String("error", err.Error()))
		}
		if err := old.ForgetDevice(wctx); err != nil {
			s.logger.Warn("device wipe failed during reset", slog.String("error", err.Error()))
		} else {
			forgotten = true
		}
		cancel()
	}
	if !forgotten && s.cfg.WipeDevice != nil {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.Teardown)
		if err := s.cfg.WipeDevice(wctx); err != nil {
			s.logger.Warn("device store wipe failed during reset", slog.String("error", err.Error()))
		}
		cancel()
	}
	if s.cfg.Artifact != nil {
		if err := s.cfg.Artifact.Clear(); err != nil {
			s.logger.Warn("qr artifact removal failed", slog.String("error", err.Error()))
		}
	}
}

// teardown destroys old within the teardown timeout. The reference is
// already released, so an unconfirmed teardown is a forced discard.
func (s *Supervisor) teardown(old *whatsapp.Session) {
	if old == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		old.Destroy()
	}()

	timer := time.NewTimer(s.cfg.Teardown)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("previous session torn down")
	case <-timer.C:
		s.logger.Warn("teardown not confirmed, session discarded",
			slog.Duration("timeout", s.cfg.Teardown),
		)
	}
}

// connectSession builds a session, attaches observers and connects it.
// Observers are registered before the session becomes visible.
func (s *Supervisor) connectSession(ctx context.Context) (*whatsapp.Session, error) {
	client, err := s.cfg.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create transport client: %w", err)
	}

	sessionCfg := s.cfg.Session
	sessionCfg.OnFault = s.faults.Trigger
	session := whatsapp.NewSession(client, sessionCfg)
	session.Observe(s.observe)

	if err := session.Connect(ctx); err != nil {
		session.Destroy()
		return nil, err
	}
	return session, nil
}

func (s *Supervisor) swap(session *whatsapp.Session) {
	s.mu.Lock()
	old := s.current
	s.current = session
	s.mu.Unlock()
	if old != nil && old != session {
		old.Destroy()
	}
}

// observe handles lifecycle events of the session it is attached to.
func (s *Supervisor) observe(ev whatsapp.Event) {
	ctx := s.context()

	switch ev.Kind {
	case whatsapp.EventQRChallenge:
		if s.cfg.Gate != nil {
			s.cfg.Gate.OnChallenge(ctx, ev.QRCode)
		}
	case whatsapp.EventAuthenticated:
		s.logger.Info("device paired")
		if s.cfg.Artifact != nil {
			if err := s.cfg.Artifact.Clear(); err != nil {
				s.logger.Warn("qr artifact removal failed", slog.String("error", err.Error()))
			}
		}
	case whatsapp.EventReady:
		s.markHealthy()
		s.logger.Info("transport ready")
	case whatsapp.EventAuthFailure:
		s.logger.Warn("transport authentication failed", slog.String("reason", ev.Reason))
		s.setServing(false)
		s.faults.Trigger("auth failure: " + ev.Reason)
	case whatsapp.EventDisconnected:
		s.logger.Warn("transport disconnected", slog.String("reason", ev.Reason))
		s.setServing(false)
		s.faults.Trigger("disconnected: " + ev.Reason)
	case whatsapp.EventMessage:
		if ev.Message != nil {
			s.cfg.OnMessage(*ev.Message)
		}
		return
	}

	if s.cfg.Lifecycle != nil {
		err := s.cfg.Lifecycle.Publish(ctx, LifecycleEvent{
			Kind:   ev.Kind.String(),
			Reason: ev.Reason,
			At:     s.cfg.Clock.Now(),
		})
		if err != nil {
			s.logger.Debug("lifecycle publish failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Supervisor) markHealthy() {
	s.mu.Lock()
	s.lastHealthyAt = s.cfg.Clock.Now()
	s.mu.Unlock()
	s.setServing(true)
}

func (s *Supervisor) setServing(serving bool) {
	if s.cfg.Health != nil {
		s.cfg.Health.SetServing(serving)
	}
}

func (s *Supervisor) notify(ctx context.Context, subject, message string) {
	if s.cfg.Alerter == nil {
		return
	}
	if err := s.cfg.Alerter.Alert(ctx, subject, message); err != nil {
		s.logger.Warn("operator alert failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// Stop cancels pending fault triggers, waits for an in-flight sequence and
// destroys the current session. The context passed to Start must already
// be cancelled for the wait to end promptly.
func (s *Supervisor) Stop() {
	s.faults.Stop()
	s.bgWG.Wait()

	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()
	if current != nil {
		current.Destroy()
	}
	s.setServing(false)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
