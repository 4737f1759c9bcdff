package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/archivebot/internal/domain"
)

// SaveLinks stores one link record per URL.
func (s *Service) SaveLinks(ctx context.Context, user domain.User, urls []string) (string, error) {
	ctx, span := tracer.Start(ctx, "archive.save_links")
	defer span.End()

	now := s.clock.Now().UTC()
	for _, url := range urls {
		record := domain.MediaRecord{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			Category:    domain.CategoryLink,
			URL:         url,
			ContentType: "link",
			Keywords:    []string{},
			CreatedAt:   now,
		}
		if err := s.media.Create(ctx, record); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("create link record: %w", err)
		}
		linksSavedTotal.Add(ctx, 1)
	}
	return fmt.Sprintf("%d link(s) saved successfully!", len(urls)), nil
}
