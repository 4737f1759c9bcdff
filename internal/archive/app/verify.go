package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/observability"
)

// Verify binds sender to the account holding code. Re-verifying with a
// valid code re-binds. An unknown code gets one generic reply.
func (s *Service) Verify(ctx context.Context, sender domain.Identity, code string) (string, error) {
	ctx, span := tracer.Start(ctx, "archive.verify")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	if code == "" {
		verificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		return ReplyInvalidCode, nil
	}

	user, err := s.users.FindByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		verificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		logger.InfoContext(ctx, "archive.verify_failed", "sender", sender.Masked())
		return ReplyInvalidCode, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("find user by code: %w", err)
	}

	if err := s.users.MarkVerified(ctx, user.ID, sender.String(), s.clock.Now().UTC()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("mark verified: %w", err)
	}

	verificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "verified")))
	logger.InfoContext(ctx, "archive.verified",
		"user_id", user.ID,
		"sender", sender.Masked(),
	)
	return ReplyVerified, nil
}

// LookupVerified returns the account bound to sender. The caller checks
// the Verified flag.
func (s *Service) LookupVerified(ctx context.Context, sender domain.Identity) (domain.User, error) {
	user, err := s.users.FindByWhatsApp(ctx, sender.String())
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// Help returns the command overview.
func (s *Service) Help(_ context.Context) string {
	return helpText
}
