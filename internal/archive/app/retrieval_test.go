package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
)

func TestService_FilesInWindow(t *testing.T) {
	ctx := context.Background()
	today := func(hour int) time.Time { return time.Date(2024, 5, 12, hour, 0, 0, 0, time.UTC) }

	h := newTestHarness()
	h.seed(domain.CategoryPoster, today(10).AddDate(0, 0, -1), "https://x/yesterday")
	h.seed(domain.CategoryPoster, today(9), "https://x/morning", "algebra")
	h.seed(domain.CategoryPoster, today(18), "https://x/evening")

	t.Run("today returns both records newest first", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#files", []string{"today"})
		require.NoError(t, err)

		want := "Files from today:\n\n" +
			"POSTER:\n" +
			"1. short:https://x/evening\n" +
			"2. short:https://x/morning\n" +
			"   Keywords: algebra\n" +
			"\n"
		assert.Equal(t, want, reply)
	})

	t.Run("yesterday", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#files", []string{"Yesterday"})
		require.NoError(t, err)
		assert.Contains(t, reply, "https://x/yesterday")
		assert.NotContains(t, reply, "https://x/morning")
	})

	t.Run("unknown window runs no query", func(t *testing.T) {
		before := h.media.queries
		for _, args := range [][]string{{"month"}, nil} {
			reply, err := h.svc.RunCommand(ctx, testUser, "#files", args)
			require.NoError(t, err)
			assert.Equal(t, app.ReplyWindowUsage, reply)
		}
		assert.Equal(t, before, h.media.queries)
	})

	t.Run("empty window", func(t *testing.T) {
		h.clock.Advance(72 * time.Hour)
		defer h.clock.Set(testStart)
		reply, err := h.svc.RunCommand(ctx, testUser, "#files", []string{"today"})
		require.NoError(t, err)
		assert.Equal(t, "No files found for today", reply)
	})
}

func TestService_RecentByCategory(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness()
	for i := 0; i < 7; i++ {
		h.seed(domain.CategoryPoster, testStart.Add(-time.Duration(i)*time.Hour), "https://x/p"+string(rune('a'+i)))
	}

	t.Run("invalid counts get the hint and no query", func(t *testing.T) {
		before := h.media.queries
		for _, arg := range []string{"0", "-3", "many"} {
			reply, err := h.svc.RunCommand(ctx, testUser, "#posters", []string{arg})
			require.NoError(t, err)
			assert.Equal(t, app.ReplyCountUsage, reply, "arg %q", arg)
		}
		assert.Equal(t, before, h.media.queries)
	})

	t.Run("default count is five", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#posters", nil)
		require.NoError(t, err)
		assert.Contains(t, reply, "Last 5 poster files:\n\n1. short:https://x/pa\n")
		assert.Contains(t, reply, "5. short:https://x/pe\n")
		assert.NotContains(t, reply, "https://x/pf")
	})

	t.Run("explicit count", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#posters", []string{"2"})
		require.NoError(t, err)
		assert.Equal(t, "Last 2 poster files:\n\n1. short:https://x/pa\n2. short:https://x/pb\n", reply)
	})

	t.Run("count is capped", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#posters", []string{"500"})
		require.NoError(t, err)
		assert.Contains(t, reply, "Last 50 poster files:")
	})

	t.Run("no matches", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#videos", nil)
		require.NoError(t, err)
		assert.Equal(t, "No video files found", reply)
	})
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness()
	h.seed(domain.CategoryNotes, testStart.Add(-2*time.Hour), "https://x/notes", "Calculus")
	h.seed(domain.CategoryExam, testStart.Add(-time.Hour), "https://x/exam", "algebra")

	t.Run("case-insensitive keyword match", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#search", []string{"CALCULUS"})
		require.NoError(t, err)
		assert.Equal(t, "Search results for \"calculus\":\n\n1. [notes] short:https://x/notes\n   Keywords: Calculus\n\n", reply)
	})

	t.Run("category matches", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#search", []string{"exam"})
		require.NoError(t, err)
		assert.Contains(t, reply, "[exam] short:https://x/exam")
	})

	t.Run("empty keyword", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#search", nil)
		require.NoError(t, err)
		assert.Equal(t, app.ReplySearchUsage, reply)
	})

	t.Run("no matches", func(t *testing.T) {
		reply, err := h.svc.RunCommand(ctx, testUser, "#search", []string{"physics"})
		require.NoError(t, err)
		assert.Equal(t, `No files found matching "physics"`, reply)
	})
}

func TestService_Categories(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		reply, err := newTestHarness().svc.RunCommand(ctx, testUser, "#categories", nil)
		require.NoError(t, err)
		assert.Equal(t, app.ReplyNoCategories, reply)
	})

	t.Run("counts sorted by name", func(t *testing.T) {
		h := newTestHarness()
		h.seed(domain.CategoryPoster, testStart, "https://x/1")
		h.seed(domain.CategoryLink, testStart, "https://x/2")
		h.seed(domain.CategoryPoster, testStart, "https://x/3")

		reply, err := h.svc.RunCommand(ctx, testUser, "#categories", nil)
		require.NoError(t, err)
		assert.Equal(t, "📊 Available Categories:\n\nlink: 1 files\nposter: 2 files\n", reply)
	})
}
