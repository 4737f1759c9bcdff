package adapter_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/archivebot/internal/archive/adapter"
)

func TestTinyURLShortener_Shorten(t *testing.T) {
	const long = "https://storage.googleapis.com/archive/poster/a b.png"

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "returns short url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, long, r.URL.Query().Get("url"))
				_, _ = w.Write([]byte("https://tinyurl.com/abc123\n"))
			},
			want: "https://tinyurl.com/abc123",
		},
		{
			name: "server error passes through",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusInternalServerError)
			},
			want: long,
		},
		{
			name: "garbage body passes through",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("Error"))
			},
			want: long,
		},
		{
			name: "timeout passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			want: long,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s := adapter.NewTinyURLShortener(srv.URL, 100*time.Millisecond, slog.Default())
			assert.Equal(t, tt.want, s.Shorten(context.Background(), long))
		})
	}
}

func TestTinyURLShortener_Unreachable(t *testing.T) {
	s := adapter.NewTinyURLShortener("http://127.0.0.1:1", 100*time.Millisecond, slog.Default())
	assert.Equal(t, "https://a.example", s.Shorten(context.Background(), "https://a.example"))
}
