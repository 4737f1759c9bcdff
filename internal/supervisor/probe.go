package supervisor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/archivebot/internal/whatsapp"
)

// RunHealthProbe probes the transport every ProbeEvery until ctx is done.
func (s *Supervisor) RunHealthProbe(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ProbeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.probeGuarded(ctx)
		}
	}
}

func (s *Supervisor) probeGuarded(ctx context.Context) {
	defer s.Recover("health_probe")
	s.Probe(ctx)
}

// Probe checks the current session once. A non-ready status triggers a
// reconnect only after Inactivity has passed since the last healthy probe,
// so a streak of failures does not keep pushing the deadline out.
func (s *Supervisor) Probe(ctx context.Context) whatsapp.Status {
	now := s.cfg.Clock.Now()

	status := whatsapp.StatusDisconnected
	session := s.Current()
	if session != nil {
		status = session.Status(ctx)
	}
	probeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))

	s.mu.Lock()
	s.lastProbeAt = now
	s.lastStatus = status
	s.probed = session
	if status == whatsapp.StatusReady {
		s.lastHealthyAt = now
		s.mu.Unlock()
		s.setServing(true)
		return status
	}
	baseline := s.lastHealthyAt
	if baseline.IsZero() {
		baseline = s.startedAt
	}
	s.mu.Unlock()

	unhealthyFor := now.Sub(baseline)
	s.logger.Debug("health probe not ready",
		slog.String("status", string(status)),
		slog.Duration("unhealthy_for", unhealthyFor),
	)
	if unhealthyFor >= s.cfg.Inactivity {
		_ = s.request(TriggerProbe, "transport "+string(status), false)
	}
	return status
}

// Snapshot is the supervisor's externally visible state.
type Snapshot struct {
	Transport     whatsapp.Status
	Phase         Phase
	Attempts      int
	LastAttemptAt time.Time
	CooldownUntil time.Time
	LastHealthyAt time.Time
	LastProbeAt   time.Time
	QRAvailable   bool
}

// Status reports the supervisor state and the transport status seen by
// the last health check. It never touches the transport, so it returns
// immediately. A session installed after the last check reports
// StatusUnknown until the next one.
func (s *Supervisor) Status(_ context.Context) Snapshot {
	qr := false
	if s.cfg.Artifact != nil {
		_, _, err := s.cfg.Artifact.Latest()
		qr = err == nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	transport := whatsapp.StatusDisconnected
	switch {
	case s.current == nil:
	case s.current == s.probed:
		transport = s.lastStatus
	default:
		transport = whatsapp.StatusUnknown
	}
	return Snapshot{
		Transport:     transport,
		Phase:         s.Phase(),
		Attempts:      s.attempts,
		LastAttemptAt: s.lastAttemptAt,
		CooldownUntil: s.cooldownUntil,
		LastHealthyAt: s.lastHealthyAt,
		LastProbeAt:   s.lastProbeAt,
		QRAvailable:   qr,
	}
}

// Authenticated reports whether the current session has completed pairing.
func (s *Supervisor) Authenticated() bool {
	session := s.Current()
	if session == nil {
		return false
	}
	switch session.State() {
	case whatsapp.StateAuthenticated, whatsapp.StateReady:
		return true
	default:
		return false
	}
}

