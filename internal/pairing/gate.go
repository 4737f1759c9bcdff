package pairing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/term"

	"github.com/aelexs/archivebot/internal/domain"
)

var challengeCounter metric.Int64Counter

func init() {
	meter := otel.Meter("archivebot/pairing")

	var err error
	challengeCounter, err = meter.Int64Counter("pairing_qr_challenges_total",
		metric.WithDescription("QR challenges by throttle decision"),
	)
	if err != nil {
		panic(err)
	}
}

// Alerter notifies an operator out of band.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// GateConfig wires the collaborators of a Gate. Terminal and Alerter are
// optional.
type GateConfig struct {
	Throttle     *Throttle
	Artifact     *Artifact
	Terminal     io.Writer
	Alerter      Alerter
	AlertSpacing time.Duration
	Clock        domain.Clock
	Logger       *slog.Logger
}

// Gate is the single consumer of QR challenge events.
type Gate struct {
	throttle     *Throttle
	artifact     *Artifact
	terminal     io.Writer
	alerter      Alerter
	alertSpacing time.Duration
	clock        domain.Clock
	logger       *slog.Logger

	mu        sync.Mutex
	lastAlert time.Time
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.AlertSpacing <= 0 {
		cfg.AlertSpacing = domain.AlertMinimumSpacing
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		throttle:     cfg.Throttle,
		artifact:     cfg.Artifact,
		terminal:     cfg.Terminal,
		alerter:      cfg.Alerter,
		alertSpacing: cfg.AlertSpacing,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With(slog.String("component", "qr_gate")),
	}
}

// TerminalOutput returns stdout when it is an interactive terminal, nil
// otherwise.
func TerminalOutput() io.Writer {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return os.Stdout
	}
	return nil
}

// Reset gives the next session a fresh QR budget.
func (g *Gate) Reset() {
	g.throttle.Reset()
}

// OnChallenge handles one raw QR code. Persistence and alert failures are
// logged and never block later challenges.
func (g *Gate) OnChallenge(ctx context.Context, code string) Decision {
	decision := g.throttle.Admit()
	challengeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision.String())))

	if decision != Accepted {
		g.logger.Debug("qr challenge throttled", slog.String("decision", decision.String()))
		return decision
	}

	if g.terminal != nil {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, g.terminal)
	}
	if err := g.artifact.Write(code); err != nil {
		g.logger.Error("failed to persist qr artifact", slog.String("error", err.Error()))
	} else {
		g.logger.Info("qr challenge ready for scanning")
	}
	g.alert(ctx)
	return decision
}

func (g *Gate) alert(ctx context.Context) {
	if g.alerter == nil {
		return
	}
	now := g.clock.Now()
	g.mu.Lock()
	if !g.lastAlert.IsZero() && now.Sub(g.lastAlert) < g.alertSpacing {
		g.mu.Unlock()
		return
	}
	g.lastAlert = now
	g.mu.Unlock()

	err := g.alerter.Alert(ctx, "WhatsApp pairing required",
		"The archive bot is waiting for a QR scan. Open the admin status page to pair the device.")
	if err != nil {
		g.logger.Warn("pairing alert failed", slog.String("error", err.Error()))
	}
}
