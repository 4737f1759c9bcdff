// Package port exposes the operator HTTP surface: pairing QR, public
// status, and the authenticated admin routes that drive the supervisor.
package port

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aelexs/archivebot/internal/auth"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/errmap"
	"github.com/aelexs/archivebot/internal/supervisor"
)

// controller is the subset of *supervisor.Supervisor the handler drives.
type controller interface {
	RequestReconnect(reason string) error
	RequestReset(reason string) error
	Status(ctx context.Context) supervisor.Snapshot
	Authenticated() bool
}

// qrSource serves the latest pairing artifact. *pairing.Artifact satisfies it.
type qrSource interface {
	Latest() ([]byte, time.Time, error)
}

// tokenValidator checks admin bearer tokens. *auth.Validator satisfies it.
type tokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AdminHandler serves the operator routes.
type AdminHandler struct {
	ctl       controller
	qr        qrSource
	validator tokenValidator
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ctl controller, qr qrSource, validator tokenValidator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ctl: ctl, qr: qr, validator: validator, logger: logger}
}

// Register mounts the routes on r. /admin/* requires an admin token.
func (h *AdminHandler) Register(r *mux.Router) {
	r.HandleFunc("/qr", h.QR).Methods(http.MethodGet)
	r.HandleFunc("/status", h.PublicStatus).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdmin)
	admin.HandleFunc("/reconnect", h.Reconnect).Methods(http.MethodPost)
	admin.HandleFunc("/reset", h.Reset).Methods(http.MethodPost)
	admin.HandleFunc("/status", h.AdminStatus).Methods(http.MethodGet)
}

// NewRouter returns a router with the admin routes mounted.
func NewRouter(h *AdminHandler) *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

func (h *AdminHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		claims, err := h.validator.Validate(token)
		if err != nil {
			h.logger.WarnContext(r.Context(), "admin.auth_rejected", "error", err)
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(v[len(prefix):]), true
}

// Reconnect schedules a reconnect. 409 while one is already in flight.
func (h *AdminHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.RequestReconnect("admin"); err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin.reconnect_requested", "subject", subject(r))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnect_scheduled"})
}

// Reset wipes the paired device and reconnects for a fresh pairing.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.RequestReset("admin"); err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin.reset_requested", "subject", subject(r))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset_scheduled"})
}

type adminStatus struct {
	Transport     string     `json:"transport"`
	Supervisor    string     `json:"supervisor"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	CooldownUntil *time.Time `json:"cooldown_until"`
	LastHealthyAt *time.Time `json:"last_healthy_at"`
	LastProbeAt   *time.Time `json:"last_probe_at"`
	QRAvailable   bool       `json:"qr_available"`
}

// AdminStatus reports supervisor state and the transport status from the
// last health check.
func (h *AdminHandler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.ctl.Status(r.Context())
	writeJSON(w, http.StatusOK, adminStatus{
		Transport:     string(snap.Transport),
		Supervisor:    snap.Phase.String(),
		Attempts:      snap.Attempts,
		LastAttemptAt: optionalTime(snap.LastAttemptAt),
		CooldownUntil: optionalTime(snap.CooldownUntil),
		LastHealthyAt: optionalTime(snap.LastHealthyAt),
		LastProbeAt:   optionalTime(snap.LastProbeAt),
		QRAvailable:   snap.QRAvailable,
	})
}

// PublicStatus reports whether pairing is complete and a QR is on offer.
func (h *AdminHandler) PublicStatus(w http.ResponseWriter, _ *http.Request) {
	_, _, err := h.qr.Latest()
	writeJSON(w, http.StatusOK, map[string]bool{
		"authenticated": h.ctl.Authenticated(),
		"qr_available":  err == nil,
	})
}

// QR serves the latest pairing code as PNG while it is fresh.
func (h *AdminHandler) QR(w http.ResponseWriter, _ *http.Request) {
	png, _, err := h.qr.Latest()
	switch {
	case errors.Is(err, domain.ErrQRExpired):
		http.Error(w, "QR code expired", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrQRUnavailable):
		http.Error(w, "QR code not generated yet", http.StatusNotFound)
		return
	case err != nil:
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func subject(r *http.Request) string {
	if c := claimsFrom(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	herr := errmap.ToHTTPError(err)
	writeJSON(w, herr.StatusCode, herr)
}
