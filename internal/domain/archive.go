package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Category is the archive bucket a stored item belongs to.
type Category string

const (
	CategoryPoster     Category = "poster"
	CategoryExam       Category = "exam"
	CategoryNotes      Category = "notes"
	CategoryAssignment Category = "assignment"
	CategoryEvent      Category = "event"
	CategoryVideo      Category = "video"
	CategoryOthers     Category = "others"
	CategoryLink       Category = "link"
)

// classifiable lists the categories a content analyzer may return.
var classifiable = map[Category]bool{
	CategoryPoster:     true,
	CategoryExam:       true,
	CategoryNotes:      true,
	CategoryAssignment: true,
	CategoryEvent:      true,
}

// ParseClassifiedCategory normalizes an analyzer-supplied category.
// The second return value is false for anything outside the fixed set.
func ParseClassifiedCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	return c, classifiable[c]
}

// FallbackCategory is the deterministic mimetype rule used when content is
// not classified or classification fails.
func FallbackCategory(mimeType string) Category {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "image"):
		return CategoryPoster
	case strings.Contains(mt, "pdf"):
		return CategoryExam
	case strings.Contains(mt, "video"):
		return CategoryVideo
	default:
		return CategoryOthers
	}
}

// IsClassifiable reports whether content of this mimetype goes to the analyzer.
func IsClassifiable(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.Contains(mt, "image") || strings.Contains(mt, "pdf")
}

// User is an archive account as seen by the chat surface.
type User struct {
	ID             string
	Name           string
	Email          string
	UniqueCode     string
	WhatsAppNumber string
	Verified       bool
	VerifiedAt     time.Time
}

// MediaRecord is one archived item.
type MediaRecord struct {
	ID          string
	UserID      string
	Category    Category
	URL         string
	ContentType string
	Size        int64
	Keywords    []string
	Subject     string
	EventDate   *time.Time
	CreatedAt   time.Time
}

// Analysis is the classifier's view of an uploaded payload.
type Analysis struct {
	Category Category
	Keywords []string
	Subject  string
	Date     string
}

// FallbackAnalysis returns the mimetype-based analysis with no metadata.
func FallbackAnalysis(mimeType string) Analysis {
	return Analysis{Category: FallbackCategory(mimeType), Keywords: []string{}}
}

// MediaFilter narrows a per-user media query. Zero fields are ignored.
type MediaFilter struct {
	Category Category
	From     time.Time
	To       time.Time
	Text     string
	Limit    int
}

// Media is a downloaded attachment payload.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// Attachment describes media carried by an inbound message. The payload is
// fetched lazily so size checks can run before any bytes move.
type Attachment struct {
	MimeType     string
	FileName     string
	DeclaredSize int64
	fetch        func(ctx context.Context) ([]byte, error)
}

// NewAttachment builds an Attachment whose bytes are produced by fetch.
func NewAttachment(mimeType, fileName string, declaredSize int64, fetch func(ctx context.Context) ([]byte, error)) *Attachment {
	return &Attachment{MimeType: mimeType, FileName: fileName, DeclaredSize: declaredSize, fetch: fetch}
}

// Download retrieves the payload.
func (a *Attachment) Download(ctx context.Context) (Media, error) {
	if a.fetch == nil {
		return Media{}, fmt.Errorf("attachment download: %w", ErrInvalidInput)
	}
	data, err := a.fetch(ctx)
	if err != nil {
		return Media{}, fmt.Errorf("attachment download: %w", err)
	}
	return Media{Data: data, MimeType: a.MimeType, FileName: a.FileName}, nil
}

// InboundMessage is a normalized chat event handed to the dispatcher.
type InboundMessage struct {
	ID         string
	Sender     Identity
	Chat       Identity
	Timestamp  time.Time
	Body       string
	IsGroup    bool
	FromMe     bool
	Attachment *Attachment
}

// Identity returns the dedup key for the message.
func (m InboundMessage) Identity() string {
	return MessageIdentity(m.ID, m.Sender, m.Timestamp)
}

// Window names accepted by the time-window retrieval command.
const (
	WindowToday     = "today"
	WindowYesterday = "yesterday"
	WindowWeek      = "week"
)

// ResolveWindow maps a window keyword to explicit [from, to] instants
// relative to now.
func ResolveWindow(name string, now time.Time) (time.Time, time.Time, error) {
	switch strings.ToLower(name) {
	case WindowToday:
		return StartOfDay(now), EndOfDay(now), nil
	case WindowYesterday:
		y := now.AddDate(0, 0, -1)
		return StartOfDay(y), EndOfDay(y), nil
	case WindowWeek:
		return now.AddDate(0, 0, -7), now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("window %q: %w", name, ErrUnsupportedWindow)
	}
}

// ParseEventDate reads analyzer dates in dd/mm/yy, dd/mm/yyyy or ISO-8601
// form. Unparseable input yields nil.
func ParseEventDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	layouts := []string{"02/01/2006", "2/1/2006", "02/01/06", "2/1/06", time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
