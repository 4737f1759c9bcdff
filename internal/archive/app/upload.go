package app

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/observability"
)

// UploadMedia archives an attachment. Oversized payloads are refused before
// any storage call. Images and PDFs go through the classifier; everything
// else is categorized by mimetype. progress receives interim replies.
func (s *Service) UploadMedia(ctx context.Context, user domain.User, att *domain.Attachment, progress func(string)) (string, error) {
	ctx, span := tracer.Start(ctx, "archive.upload_media")
	defer span.End()
	span.SetAttributes(attribute.String("media.mime_type", att.MimeType))

	logger := observability.WithTraceID(ctx, s.logger)

	if att.DeclaredSize > s.maxMediaBytes {
		uploadsRejectedTotal.Add(ctx, 1)
		return ReplyTooLarge, nil
	}

	classify := domain.IsClassifiable(att.MimeType)
	if classify && progress != nil {
		progress(ReplyAnalyzing)
	}

	media, err := att.Download(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if int64(len(media.Data)) > s.maxMediaBytes {
		uploadsRejectedTotal.Add(ctx, 1)
		return ReplyTooLarge, nil
	}

	analysis := domain.FallbackAnalysis(media.MimeType)
	if classify {
		analysis = s.analyze(ctx, media)
	}

	id := uuid.NewString()
	name := objectName(analysis.Category, id, media.FileName, media.MimeType)
	url, err := s.storage.Store(ctx, media.Data, name, media.MimeType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("store object: %w", err)
	}

	record := domain.MediaRecord{
		ID:          id,
		UserID:      user.ID,
		Category:    analysis.Category,
		URL:         url,
		ContentType: media.MimeType,
		Size:        int64(len(media.Data)),
		Keywords:    analysis.Keywords,
		Subject:     analysis.Subject,
		EventDate:   domain.ParseEventDate(analysis.Date),
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.media.Create(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("create media record: %w", err)
	}

	uploadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(record.Category))))
	logger.InfoContext(ctx, "archive.media_uploaded",
		"user_id", user.ID,
		"media_id", id,
		"category", record.Category,
		"size", record.Size,
	)
	return uploadReply(record.Category, analysis, s.shortener.Shorten(ctx, url)), nil
}

// analyze runs the classifier, degrading to the mimetype rule on any
// failure or out-of-set category.
func (s *Service) analyze(ctx context.Context, media domain.Media) domain.Analysis {
	analysis, err := s.classifier.Classify(ctx, media.Data, media.MimeType)
	if err != nil {
		classifierFallbackTotal.Add(ctx, 1)
		s.logger.WarnContext(ctx, "classifier failed, using mimetype fallback",
			"mime_type", media.MimeType,
			"error", err,
		)
		return domain.FallbackAnalysis(media.MimeType)
	}
	category, ok := domain.ParseClassifiedCategory(string(analysis.Category))
	if !ok {
		category = domain.FallbackCategory(media.MimeType)
	}
	analysis.Category = category
	if analysis.Keywords == nil {
		analysis.Keywords = []string{}
	}
	return analysis
}

// objectName builds "<category>/<id><ext>". The extension comes from the
// original filename, then the mimetype.
func objectName(category domain.Category, id, fileName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	if ext == "" {
		ext = ".file"
	}
	return string(category) + "/" + id + ext
}
