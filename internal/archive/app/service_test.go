package app_test

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/domain/domaintest"
)

var (
	testStart = time.Date(2024, 5, 12, 20, 0, 0, 0, time.UTC)
	sender    = domain.MustIdentity("15550001111@s.whatsapp.net")
	testUser  = domain.User{ID: "user-001", Name: "Ada", UniqueCode: "ABC123", Verified: true}
)

// stubUserStore implements app.UserStore with function fields.
type stubUserStore struct {
	findByCodeFn     func(ctx context.Context, code string) (*domain.User, error)
	findByWhatsAppFn func(ctx context.Context, number string) (*domain.User, error)
	markVerifiedFn   func(ctx context.Context, userID, number string, at time.Time) error
}

func (s *stubUserStore) FindByCode(ctx context.Context, code string) (*domain.User, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return nil, domain.ErrNotFound
}

func (s *stubUserStore) FindByWhatsApp(ctx context.Context, number string) (*domain.User, error) {
	if s.findByWhatsAppFn != nil {
		return s.findByWhatsAppFn(ctx, number)
	}
	return nil, domain.ErrNotFound
}

func (s *stubUserStore) MarkVerified(ctx context.Context, userID, number string, at time.Time) error {
	if s.markVerifiedFn != nil {
		return s.markVerifiedFn(ctx, userID, number, at)
	}
	return nil
}

// memoryMediaStore is an in-memory app.MediaStore applying the same filter
// semantics as the DynamoDB adapter.
type memoryMediaStore struct {
	mu       sync.Mutex
	records  []domain.MediaRecord
	queries  int
	createFn func(ctx context.Context, record domain.MediaRecord) error
}

func (m *memoryMediaStore) Create(ctx context.Context, record domain.MediaRecord) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryMediaStore) Query(_ context.Context, userID string, f domain.MediaFilter) ([]domain.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	var out []domain.MediaRecord
	for _, r := range m.records {
		if r.UserID != userID {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.CreatedAt.After(f.To) {
			continue
		}
		if f.Text != "" {
			haystack := strings.ToLower(strings.Join(r.Keywords, " ") + " " + r.Subject + " " + string(r.Category))
			if !strings.Contains(haystack, f.Text) {
				continue
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryMediaStore) CountByCategory(_ context.Context, userID string) (map[domain.Category]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Category]int)
	for _, r := range m.records {
		if r.UserID == userID {
			counts[r.Category]++
		}
	}
	return counts, nil
}

func (m *memoryMediaStore) all() []domain.MediaRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MediaRecord(nil), m.records...)
}

// stubClassifier implements app.Classifier with a function field.
type stubClassifier struct {
	classifyFn func(ctx context.Context, data []byte, mimeType string) (domain.Analysis, error)
	calls      int
}

func (s *stubClassifier) Classify(ctx context.Context, data []byte, mimeType string) (domain.Analysis, error) {
	s.calls++
	if s.classifyFn != nil {
		return s.classifyFn(ctx, data, mimeType)
	}
	return domain.Analysis{Category: domain.CategoryNotes, Keywords: []string{}}, nil
}

// stubStorage implements app.ObjectStorage.
type stubStorage struct {
	storeFn func(ctx context.Context, data []byte, name, mimeType string) (string, error)
	names   []string
}

func (s *stubStorage) Store(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	s.names = append(s.names, name)
	if s.storeFn != nil {
		return s.storeFn(ctx, data, name, mimeType)
	}
	return "https://storage.googleapis.com/archive/" + name, nil
}

// prefixShortener maps every URL to "short:" + URL so ordering is visible.
type prefixShortener struct{}

func (prefixShortener) Shorten(_ context.Context, url string) string { return "short:" + url }

type testHarness struct {
	svc        *app.Service
	clock      *domaintest.FakeClock
	users      *stubUserStore
	media      *memoryMediaStore
	classifier *stubClassifier
	storage    *stubStorage
}

func newTestHarness() *testHarness {
	h := &testHarness{
		clock:      domaintest.NewFakeClock(testStart),
		users:      &stubUserStore{},
		media:      &memoryMediaStore{},
		classifier: &stubClassifier{},
		storage:    &stubStorage{},
	}
	h.svc = app.NewService(app.ServiceConfig{
		Users:         h.users,
		Media:         h.media,
		Classifier:    h.classifier,
		Storage:       h.storage,
		Shortener:     prefixShortener{},
		Clock:         h.clock,
		Location:      time.UTC,
		MaxMediaBytes: domain.MaxMediaBytes,
		Logger:        slog.Default(),
	})
	return h
}

func attachmentOf(mimeType, name string, data []byte) *domain.Attachment {
	return domain.NewAttachment(mimeType, name, int64(len(data)), func(context.Context) ([]byte, error) {
		return data, nil
	})
}

func (h *testHarness) seed(category domain.Category, at time.Time, url string, keywords ...string) {
	h.media.records = append(h.media.records, domain.MediaRecord{
		ID:        url,
		UserID:    testUser.ID,
		Category:  category,
		URL:       url,
		Keywords:  keywords,
		CreatedAt: at,
	})
}
