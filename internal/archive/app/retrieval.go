package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/archivebot/internal/domain"
)

// RunCommand executes a '#'-prefixed retrieval command for a verified user.
// Unknown '#<plural>' tokens are treated as category retrieval.
func (s *Service) RunCommand(ctx context.Context, user domain.User, name string, args []string) (string, error) {
	ctx, span := tracer.Start(ctx, "archive.run_command")
	defer span.End()
	span.SetAttributes(attribute.String("command", name))
	retrievalsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name)))

	var (
		reply string
		err   error
	)
	switch name {
	case "#files":
		reply, err = s.filesInWindow(ctx, user, args)
	case "#search":
		reply, err = s.search(ctx, user, args)
	case "#categories":
		reply, err = s.categories(ctx, user)
	default:
		reply, err = s.recentByCategory(ctx, user, name, args)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}

func (s *Service) filesInWindow(ctx context.Context, user domain.User, args []string) (string, error) {
	if len(args) == 0 {
		return ReplyWindowUsage, nil
	}
	window := strings.ToLower(args[0])
	from, to, err := domain.ResolveWindow(window, s.now())
	if errors.Is(err, domain.ErrUnsupportedWindow) {
		return ReplyWindowUsage, nil
	}
	if err != nil {
		return "", err
	}

	records, err := s.media.Query(ctx, user.ID, domain.MediaFilter{From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("query window %s: %w", window, err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No files found for %s", window), nil
	}
	return windowReply(window, records, s.shortenAll(ctx, records)), nil
}

// recentByCategory answers "#<category>s [N]". N defaults to 5 and is
// capped at 50; anything but a positive integer gets the usage hint.
func (s *Service) recentByCategory(ctx context.Context, user domain.User, name string, args []string) (string, error) {
	category := domain.Category(strings.TrimSuffix(strings.TrimPrefix(name, "#"), "s"))
	if category == "" {
		return "", nil
	}

	count := domain.DefaultRecentCount
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return ReplyCountUsage, nil
		}
		count = min(n, domain.MaxRecentCount)
	}

	records, err := s.media.Query(ctx, user.ID, domain.MediaFilter{Category: category, Limit: count})
	if err != nil {
		return "", fmt.Errorf("query category %s: %w", category, err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No %s files found", category), nil
	}
	return recentReply(count, category, records, s.shortenAll(ctx, records)), nil
}

func (s *Service) search(ctx context.Context, user domain.User, args []string) (string, error) {
	keyword := strings.ToLower(strings.TrimSpace(strings.Join(args, " ")))
	if keyword == "" {
		return ReplySearchUsage, nil
	}

	records, err := s.media.Query(ctx, user.ID, domain.MediaFilter{Text: keyword})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No files found matching %q", keyword), nil
	}
	return searchReply(keyword, records, s.shortenAll(ctx, records)), nil
}

func (s *Service) categories(ctx context.Context, user domain.User) (string, error) {
	counts, err := s.media.CountByCategory(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("count categories: %w", err)
	}
	if len(counts) == 0 {
		return ReplyNoCategories, nil
	}

	names := make([]string, 0, len(counts))
	for c := range counts {
		names = append(names, string(c))
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("📊 Available Categories:\n\n")
	for _, n := range names {
		fmt.Fprintf(&b, "%s: %d files\n", n, counts[domain.Category(n)])
	}
	return b.String(), nil
}

// shortenAll shortens every record URL with bounded concurrency. The
// result is index-aligned with records.
func (s *Service) shortenAll(ctx context.Context, records []domain.MediaRecord) []string {
	urls := make([]string, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(domain.ShortenConcurrency)
	for i, r := range records {
		g.Go(func() error {
			urls[i] = s.shortener.Shorten(gctx, r.URL)
			return nil
		})
	}
	_ = g.Wait()
	return urls
}
