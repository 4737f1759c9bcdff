package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/archivebot/internal/domain"
)

var tracer = otel.Tracer("archive/app")

var (
	verificationsTotal      metric.Int64Counter
	uploadsTotal            metric.Int64Counter
	uploadsRejectedTotal    metric.Int64Counter
	classifierFallbackTotal metric.Int64Counter
	linksSavedTotal         metric.Int64Counter
	retrievalsTotal         metric.Int64Counter
)

func init() {
	m := otel.Meter("archive/app")

	verificationsTotal, _ = m.Int64Counter("archive_verifications_total",
		metric.WithDescription("Total verification attempts, by result"))
	uploadsTotal, _ = m.Int64Counter("archive_uploads_total",
		metric.WithDescription("Total archived uploads, by category"))
	uploadsRejectedTotal, _ = m.Int64Counter("archive_uploads_rejected_total",
		metric.WithDescription("Total uploads rejected by the size ceiling"))
	classifierFallbackTotal, _ = m.Int64Counter("archive_classifier_fallbacks_total",
		metric.WithDescription("Total uploads categorized by the mimetype fallback after a classifier failure"))
	linksSavedTotal, _ = m.Int64Counter("archive_links_saved_total",
		metric.WithDescription("Total links captured"))
	retrievalsTotal, _ = m.Int64Counter("archive_retrievals_total",
		metric.WithDescription("Total retrieval commands, by command"))
}

// UserStore reads and verifies archive accounts.
type UserStore interface {
	FindByCode(ctx context.Context, code string) (*domain.User, error)
	FindByWhatsApp(ctx context.Context, number string) (*domain.User, error)
	MarkVerified(ctx context.Context, userID, number string, at time.Time) error
}

// MediaStore persists archived items. Query returns records newest first.
type MediaStore interface {
	Create(ctx context.Context, record domain.MediaRecord) error
	Query(ctx context.Context, userID string, filter domain.MediaFilter) ([]domain.MediaRecord, error)
	CountByCategory(ctx context.Context, userID string) (map[domain.Category]int, error)
}

// Classifier analyzes uploaded content.
type Classifier interface {
	Classify(ctx context.Context, data []byte, mimeType string) (domain.Analysis, error)
}

// ObjectStorage stores a payload and returns its public URL.
type ObjectStorage interface {
	Store(ctx context.Context, data []byte, name, mimeType string) (string, error)
}

// Shortener shortens URLs. It returns the input unchanged on failure.
type Shortener interface {
	Shorten(ctx context.Context, url string) string
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	Users         UserStore
	Media         MediaStore
	Classifier    Classifier
	Storage       ObjectStorage
	Shortener     Shortener
	Clock         domain.Clock
	Location      *time.Location
	MaxMediaBytes int64
	Logger        *slog.Logger
}

// Service implements the chat commands of the archive bot.
type Service struct {
	users         UserStore
	media         MediaStore
	classifier    Classifier
	storage       ObjectStorage
	shortener     Shortener
	clock         domain.Clock
	location      *time.Location
	maxMediaBytes int64
	logger        *slog.Logger
}

// NewService creates a new Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = domain.MaxMediaBytes
	}
	return &Service{
		users:         cfg.Users,
		media:         cfg.Media,
		classifier:    cfg.Classifier,
		storage:       cfg.Storage,
		shortener:     cfg.Shortener,
		clock:         cfg.Clock,
		location:      cfg.Location,
		maxMediaBytes: cfg.MaxMediaBytes,
		logger:        cfg.Logger,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().In(s.location)
}
