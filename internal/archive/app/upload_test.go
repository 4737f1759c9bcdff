package app_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
)

func TestService_UploadMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("classified image", func(t *testing.T) {
		h := newTestHarness()
		h.classifier.classifyFn = func(_ context.Context, _ []byte, mimeType string) (domain.Analysis, error) {
			assert.Equal(t, "image/png", mimeType)
			return domain.Analysis{
				Category: "poster",
				Keywords: []string{"exam", "math"},
				Subject:  "Algebra",
				Date:     "12/05/24",
			}, nil
		}
		var progress []string

		reply, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("image/png", "Scan.PNG", []byte("png-bytes")), func(s string) {
			progress = append(progress, s)
		})
		require.NoError(t, err)

		assert.Equal(t, []string{app.ReplyAnalyzing}, progress)
		assert.Contains(t, reply, "uploaded as poster")
		assert.Contains(t, reply, "Keywords: exam, math")
		assert.Contains(t, reply, "Subject: Algebra")
		assert.Contains(t, reply, "Access it here: short:https://storage.googleapis.com/archive/poster/")

		records := h.media.all()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, domain.CategoryPoster, rec.Category)
		assert.Equal(t, testUser.ID, rec.UserID)
		assert.Equal(t, int64(len("png-bytes")), rec.Size)
		assert.Equal(t, "Algebra", rec.Subject)
		require.NotNil(t, rec.EventDate)
		assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), *rec.EventDate)

		require.Len(t, h.storage.names, 1)
		assert.True(t, strings.HasPrefix(h.storage.names[0], "poster/"))
		assert.True(t, strings.HasSuffix(h.storage.names[0], ".png"))
	})

	t.Run("classifier failure falls back by mimetype", func(t *testing.T) {
		h := newTestHarness()
		h.classifier.classifyFn = func(context.Context, []byte, string) (domain.Analysis, error) {
			return domain.Analysis{}, errors.New("model overloaded")
		}

		reply, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("application/pdf", "paper.pdf", []byte("%PDF")), nil)
		require.NoError(t, err)
		assert.Contains(t, reply, "uploaded as exam")
		assert.NotContains(t, reply, "Keywords:")

		rec := h.media.all()[0]
		assert.Equal(t, domain.CategoryExam, rec.Category)
		assert.Empty(t, rec.Keywords)
		assert.Empty(t, rec.Subject)
		assert.Nil(t, rec.EventDate)
		assert.True(t, strings.HasSuffix(h.storage.names[0], ".pdf"))
	})

	t.Run("out-of-set category falls back by mimetype", func(t *testing.T) {
		h := newTestHarness()
		h.classifier.classifyFn = func(context.Context, []byte, string) (domain.Analysis, error) {
			return domain.Analysis{Category: "meme", Keywords: []string{"cat"}}, nil
		}

		_, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("image/jpeg", "a.jpg", []byte("jpg")), nil)
		require.NoError(t, err)
		rec := h.media.all()[0]
		assert.Equal(t, domain.CategoryPoster, rec.Category)
		assert.Equal(t, []string{"cat"}, rec.Keywords)
	})

	t.Run("video skips classification", func(t *testing.T) {
		h := newTestHarness()
		var progress []string

		reply, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("video/mp4", "", []byte("mp4")), func(s string) {
			progress = append(progress, s)
		})
		require.NoError(t, err)
		assert.Contains(t, reply, "uploaded as video")
		assert.Zero(t, h.classifier.calls)
		assert.Empty(t, progress)
	})

	t.Run("other types land in others", func(t *testing.T) {
		h := newTestHarness()
		_, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("application/zip", "a.zip", []byte("zip")), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.CategoryOthers, h.media.all()[0].Category)
		assert.Zero(t, h.classifier.calls)
	})

	t.Run("storage failure is an error and nothing is persisted", func(t *testing.T) {
		h := newTestHarness()
		h.storage.storeFn = func(context.Context, []byte, string, string) (string, error) {
			return "", errors.New("bucket gone")
		}
		_, err := h.svc.UploadMedia(ctx, testUser, attachmentOf("video/mp4", "", []byte("mp4")), nil)
		assert.Error(t, err)
		assert.Empty(t, h.media.all())
	})

	t.Run("download failure is an error", func(t *testing.T) {
		h := newTestHarness()
		att := domain.NewAttachment("image/png", "", 10, func(context.Context) ([]byte, error) {
			return nil, errors.New("media expired")
		})
		_, err := h.svc.UploadMedia(ctx, testUser, att, nil)
		assert.Error(t, err)
		assert.Empty(t, h.storage.names)
	})
}

func TestService_UploadMedia_SizeCeiling(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		size     int
		declared int64
		rejected bool
	}{
		{name: "exactly the ceiling", size: domain.MaxMediaBytes, declared: domain.MaxMediaBytes},
		{name: "one byte over", size: domain.MaxMediaBytes + 1, declared: domain.MaxMediaBytes + 1, rejected: true},
		{name: "declared size under but payload over", size: domain.MaxMediaBytes + 1, declared: 100, rejected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			data := bytes.Repeat([]byte{0}, tt.size)
			att := domain.NewAttachment("video/mp4", "clip.mp4", tt.declared, func(context.Context) ([]byte, error) {
				return data, nil
			})

			reply, err := h.svc.UploadMedia(ctx, testUser, att, nil)
			require.NoError(t, err)
			if tt.rejected {
				assert.Equal(t, app.ReplyTooLarge, reply)
				assert.Empty(t, h.storage.names)
				assert.Empty(t, h.media.all())
				return
			}
			assert.Contains(t, reply, "uploaded as video")
			assert.Len(t, h.media.all(), 1)
		})
	}
}

func TestService_SaveLinks(t *testing.T) {
	h := newTestHarness()

	reply, err := h.svc.SaveLinks(context.Background(), testUser, []string{"https://a.example/x", "https://b.example/y"})
	require.NoError(t, err)
	assert.Equal(t, "2 link(s) saved successfully!", reply)

	records := h.media.all()
	require.Len(t, records, 2)
	for i, url := range []string{"https://a.example/x", "https://b.example/y"} {
		assert.Equal(t, domain.CategoryLink, records[i].Category)
		assert.Equal(t, url, records[i].URL)
		assert.Zero(t, records[i].Size)
	}

	t.Run("persistence failure is an error", func(t *testing.T) {
		h := newTestHarness()
		h.media.createFn = func(context.Context, domain.MediaRecord) error { return errors.New("write failed") }
		_, err := h.svc.SaveLinks(context.Background(), testUser, []string{"https://a.example/x"})
		assert.Error(t, err)
	})
}
