package domain_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/archivebot/internal/domain"
)

func TestSecretString(t *testing.T) {
	secret := domain.SecretString("gemini-api-key-value")

	t.Run("String returns REDACTED", func(t *testing.T) {
		assert.Equal(t, "[REDACTED]", secret.String())
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
	})

	t.Run("Expose returns actual value", func(t *testing.T) {
		assert.Equal(t, "gemini-api-key-value", secret.Expose())
	})

	t.Run("IsEmpty", func(t *testing.T) {
		assert.False(t, secret.IsEmpty())
		assert.True(t, domain.SecretString("").IsEmpty())
	})

	t.Run("slog output contains REDACTED", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		logger.Info("loaded", "value", secret)

		assert.Contains(t, buf.String(), "[REDACTED]")
		assert.NotContains(t, buf.String(), "gemini-api-key-value")
	})
}
