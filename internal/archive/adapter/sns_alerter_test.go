package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snsPublisherStub struct {
	err   error
	input *sns.PublishInput
}

func (s *snsPublisherStub) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sns.PublishOutput{}, nil
}

func TestSNSAlerter_Alert(t *testing.T) {
	t.Run("publishes to topic", func(t *testing.T) {
		stub := &snsPublisherStub{}
		alerter := NewSNSAlerter(stub, "arn:aws:sns:us-east-1:000000000000:ops")

		err := alerter.Alert(context.Background(), "pairing required", "scan the QR code")
		require.NoError(t, err)
		assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:ops", *stub.input.TopicArn)
		assert.Equal(t, "pairing required", *stub.input.Subject)
		assert.Equal(t, "scan the QR code", *stub.input.Message)
	})

	t.Run("long subject is truncated", func(t *testing.T) {
		stub := &snsPublisherStub{}
		err := NewSNSAlerter(stub, "arn").Alert(context.Background(), strings.Repeat("s", 150), "m")
		require.NoError(t, err)
		assert.Len(t, *stub.input.Subject, 100)
	})

	t.Run("publish error is wrapped", func(t *testing.T) {
		publishErr := errors.New("sns throttled")
		err := NewSNSAlerter(&snsPublisherStub{err: publishErr}, "arn").Alert(context.Background(), "s", "m")
		assert.ErrorIs(t, err, publishErr)
		assert.Contains(t, err.Error(), "sns alert")
	})
}

func TestLogAlerter_Alert(t *testing.T) {
	var buf bytes.Buffer
	alerter := NewLogAlerter(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, alerter.Alert(context.Background(), "reconnect failed", "after 3 attempts"))
	assert.Contains(t, buf.String(), "reconnect failed")
	assert.Contains(t, buf.String(), "after 3 attempts")
}
