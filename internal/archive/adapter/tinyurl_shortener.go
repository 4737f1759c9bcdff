package adapter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
)

var _ app.Shortener = (*TinyURLShortener)(nil)

// TinyURLShortener calls the tinyurl "api-create" GET endpoint. Shortening
// is cosmetic: every failure returns the original URL.
type TinyURLShortener struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewTinyURLShortener creates a shortener against endpoint with a
// per-request timeout.
func NewTinyURLShortener(endpoint string, timeout time.Duration, logger *slog.Logger) *TinyURLShortener {
	if timeout <= 0 {
		timeout = domain.ShortenerTimeout
	}
	return &TinyURLShortener{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (s *TinyURLShortener) Shorten(ctx context.Context, long string) string {
	ctx, span := tracer.Start(ctx, "tinyurl.shorten")
	defer span.End()

	short, err := s.shorten(ctx, long)
	if err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "url shortening failed, using original",
			slog.String("error", err.Error()),
		)
		return long
	}
	return short
}

func (s *TinyURLShortener) shorten(ctx context.Context, long string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?url="+url.QueryEscape(long), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &shortenStatusError{code: resp.StatusCode}
	}
	short := strings.TrimSpace(string(body))
	if !strings.HasPrefix(short, "http") {
		return "", &shortenStatusError{code: resp.StatusCode, body: short}
	}
	return short, nil
}

type shortenStatusError struct {
	code int
	body string
}

func (e *shortenStatusError) Error() string {
	if e.body != "" {
		return "tinyurl: unexpected body " + e.body
	}
	return "tinyurl: status " + http.StatusText(e.code)
}
