package port_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/archive/port"
	"github.com/aelexs/archivebot/internal/auth"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/domain/domaintest"
	"github.com/aelexs/archivebot/internal/supervisor"
	"github.com/aelexs/archivebot/internal/whatsapp"
)

const testSecret = domain.SecretString("admin-secret-for-tests-only-0000")

type stubController struct {
	reconnectFn   func(reason string) error
	resetFn       func(reason string) error
	snapshot      supervisor.Snapshot
	authenticated bool
	reconnects    int
	resets        int
}

func (s *stubController) RequestReconnect(reason string) error {
	s.reconnects++
	if s.reconnectFn != nil {
		return s.reconnectFn(reason)
	}
	return nil
}

func (s *stubController) RequestReset(reason string) error {
	s.resets++
	if s.resetFn != nil {
		return s.resetFn(reason)
	}
	return nil
}

func (s *stubController) Status(context.Context) supervisor.Snapshot { return s.snapshot }
func (s *stubController) Authenticated() bool                        { return s.authenticated }

type stubQR struct {
	png []byte
	at  time.Time
	err error
}

func (s *stubQR) Latest() ([]byte, time.Time, error) { return s.png, s.at, s.err }

type fixture struct {
	srv   *httptest.Server
	ctl   *stubController
	qr    *stubQR
	token string
	clock *domaintest.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		ctl:   &stubController{},
		qr:    &stubQR{err: domain.ErrQRUnavailable},
		clock: clock,
	}

	minted, err := auth.NewMinter(testSecret, clock).Mint("ops@example.com", time.Hour)
	require.NoError(t, err)
	f.token = minted.Token

	h := port.NewAdminHandler(f.ctl, f.qr, auth.NewValidator(testSecret, clock), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.srv = httptest.NewServer(port.NewRouter(h))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)

	viewer := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Audience:  jwt.ClaimStrings{auth.Audience},
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		},
		Role: "viewer",
	}
	viewerToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &viewer).SignedString([]byte(testSecret.Expose()))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "garbage", token: "abc.def.ghi", status: http.StatusUnauthorized},
		{name: "non-admin role", token: viewerToken, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/admin/reconnect", tt.token)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Zero(t, f.ctl.reconnects)

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(2 * time.Hour)
		defer f.clock.Advance(-2 * time.Hour)
		resp := f.do(t, http.MethodGet, "/admin/status", f.token)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAdmin_Reconnect(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/reconnect", f.token)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "reconnect_scheduled", decode(t, resp)["status"])
	assert.Equal(t, 1, f.ctl.reconnects)

	t.Run("busy supervisor is a conflict", func(t *testing.T) {
		f.ctl.reconnectFn = func(string) error { return domain.ErrReconnectInProgress }
		resp := f.do(t, http.MethodPost, "/admin/reconnect", f.token)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "RECONNECT_IN_PROGRESS", decode(t, resp)["code"])
	})

	t.Run("wrong method", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/admin/reconnect", f.token)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestAdmin_Reset(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/reset", f.token)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.ctl.resets)
	assert.Zero(t, f.ctl.reconnects)
}

func TestAdmin_Status(t *testing.T) {
	f := newFixture(t)
	attemptAt := time.Date(2026, 1, 15, 11, 59, 0, 0, time.UTC)
	f.ctl.snapshot = supervisor.Snapshot{
		Transport:     whatsapp.StatusConnecting,
		Phase:         supervisor.PhaseCoolingDown,
		Attempts:      3,
		LastAttemptAt: attemptAt,
		LastProbeAt:   attemptAt.Add(30 * time.Second),
		QRAvailable:   true,
	}

	resp := f.do(t, http.MethodGet, "/admin/status", f.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	assert.Equal(t, "connecting", body["transport"])
	assert.Equal(t, "cooling_down", body["supervisor"])
	assert.EqualValues(t, 3, body["attempts"])
	assert.Equal(t, "2026-01-15T11:59:00Z", body["last_attempt_at"])
	assert.Nil(t, body["cooldown_until"])
	assert.Equal(t, "2026-01-15T11:59:30Z", body["last_probe_at"])
	assert.Equal(t, true, body["qr_available"])
}

func TestPublicStatus(t *testing.T) {
	f := newFixture(t)
	f.ctl.authenticated = true

	resp := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"authenticated": true, "qr_available": false}, decode(t, resp))
}

func TestQR(t *testing.T) {
	tests := []struct {
		name     string
		qr       stubQR
		status   int
		wantBody string
	}{
		{name: "fresh", qr: stubQR{png: []byte("\x89PNG")}, status: http.StatusOK, wantBody: "\x89PNG"},
		{name: "never generated", qr: stubQR{err: domain.ErrQRUnavailable}, status: http.StatusNotFound, wantBody: "QR code not generated yet\n"},
		{name: "stale", qr: stubQR{err: domain.ErrQRExpired}, status: http.StatusNotFound, wantBody: "QR code expired\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			*f.qr = tt.qr

			resp := f.do(t, http.MethodGet, "/qr", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(body))
			if tt.status == http.StatusOK {
				assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
			}
		})
	}
}
