package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/aelexs/archivebot/internal/pairing"
	"github.com/aelexs/archivebot/internal/supervisor"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations the alerter needs. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var (
	_ pairing.Alerter    = (*SNSAlerter)(nil)
	_ supervisor.Alerter = (*SNSAlerter)(nil)
	_ pairing.Alerter    = (*LogAlerter)(nil)
	_ supervisor.Alerter = (*LogAlerter)(nil)
)

// SNSAlerter publishes operator alerts to an SNS topic.
type SNSAlerter struct {
	client   snsPublisher
	topicARN string
}

// NewSNSAlerter creates an SNSAlerter publishing to topicARN.
func NewSNSAlerter(client snsPublisher, topicARN string) *SNSAlerter {
	return &SNSAlerter{client: client, topicARN: topicARN}
}

// Alert publishes message under subject. SNS limits subjects to 100 chars.
func (a *SNSAlerter) Alert(ctx context.Context, subject, message string) error {
	if len(subject) > 100 {
		subject = subject[:100]
	}
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &a.topicARN,
		Subject:  &subject,
		Message:  &message,
	})
	if err != nil {
		return fmt.Errorf("sns alert %q: %w", subject, err)
	}
	return nil
}

// LogAlerter writes alerts to the structured log. Used when no topic is
// configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter writing to logger.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, subject, message string) error {
	a.logger.WarnContext(ctx, "operator alert (log-only)",
		slog.String("subject", subject),
		slog.String("message", message),
	)
	return nil
}
