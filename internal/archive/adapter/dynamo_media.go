package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/dynamo"
)

// mediaDynamoDB is the subset of DynamoDB operations the media store needs.
type mediaDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

var _ app.MediaStore = (*MediaStore)(nil)

// sortKeyLayout is fixed width so lexical order of sort keys is time order.
// RFC3339Nano trims trailing zeros and would not sort.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

// sortKeyUpper is greater than every media ID suffix.
const sortKeyUpper = "#~"

// mediaItem is the DynamoDB item shape for the media table.
type mediaItem struct {
	UserID      string   `dynamodbav:"user_id"`
	SortKey     string   `dynamodbav:"sort_key"`
	MediaID     string   `dynamodbav:"media_id"`
	Category    string   `dynamodbav:"category"`
	MediaURL    string   `dynamodbav:"media_url"`
	Type        string   `dynamodbav:"type"`
	FileSize    int64    `dynamodbav:"file_size"`
	Keywords    []string `dynamodbav:"keywords"`
	Subject     string   `dynamodbav:"subject,omitempty"`
	EventDate   string   `dynamodbav:"event_date,omitempty"`
	ContentType string   `dynamodbav:"content_type,omitempty"`
	SearchText  string   `dynamodbav:"search_text"`
	CreatedAt   string   `dynamodbav:"created_at"`
}

func sortKey(at time.Time, id string) string {
	return at.UTC().Format(sortKeyLayout) + "#" + id
}

func newMediaItem(r domain.MediaRecord) mediaItem {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	item := mediaItem{
		UserID:      r.UserID,
		SortKey:     sortKey(r.CreatedAt, r.ID),
		MediaID:     r.ID,
		Category:    string(r.Category),
		MediaURL:    r.URL,
		Type:        "file",
		FileSize:    r.Size,
		Keywords:    keywords,
		Subject:     r.Subject,
		ContentType: r.ContentType,
		SearchText:  searchText(r),
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.Category == domain.CategoryLink {
		item.Type = "link"
	}
	if r.EventDate != nil {
		item.EventDate = r.EventDate.UTC().Format(time.RFC3339)
	}
	return item
}

func (i mediaItem) toDomain() domain.MediaRecord {
	r := domain.MediaRecord{
		ID:          i.MediaID,
		UserID:      i.UserID,
		Category:    domain.Category(i.Category),
		URL:         i.MediaURL,
		ContentType: i.ContentType,
		Size:        i.FileSize,
		Keywords:    i.Keywords,
		Subject:     i.Subject,
	}
	if t, err := time.Parse(time.RFC3339Nano, i.CreatedAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, i.EventDate); err == nil {
		r.EventDate = &t
	}
	return r
}

// searchSeparator splits the fields of the search haystack so a contains
// match never spans two fields.
const searchSeparator = "\x1f"

// searchText is the lowercased haystack used by keyword search.
func searchText(r domain.MediaRecord) string {
	parts := append([]string{string(r.Category), r.Subject}, r.Keywords...)
	return strings.ToLower(strings.Join(parts, searchSeparator))
}

// searchTerm normalizes a user search phrase for matching against searchText.
func searchTerm(text string) string {
	return strings.ReplaceAll(strings.ToLower(text), searchSeparator, "")
}

// MediaStore persists archived items in DynamoDB, partitioned by user.
type MediaStore struct {
	db        mediaDynamoDB
	tableName string
}

// NewMediaStore creates a MediaStore backed by the given DynamoDB client.
func NewMediaStore(db mediaDynamoDB, tableName string) *MediaStore {
	return &MediaStore{db: db, tableName: tableName}
}

// Create writes record. The sort key embeds the media ID, so a retry with
// the same record overwrites rather than duplicates.
func (s *MediaStore) Create(ctx context.Context, record domain.MediaRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.media.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("media.category", string(record.Category)),
	)

	av, err := dynamo.MarshalMap(newMediaItem(record))
	if err != nil {
		return fmt.Errorf("media store: marshal: %w", err)
	}
	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("media store: put %s: %w", record.ID, err)
	}
	return nil
}

// Query returns userID's records matching filter, newest first. Filters
// are applied server-side after the key condition, so pages are read
// until Limit matches are collected or the partition is exhausted.
func (s *MediaStore) Query(ctx context.Context, userID string, filter domain.MediaFilter) ([]domain.MediaRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.media.query")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"))

	builder := dynamo.NewExpressionBuilder().WithKeyCondition(keyCondition(userID, filter))
	if cond, ok := filterCondition(filter); ok {
		builder = builder.WithFilter(cond)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("media store: build query: %w", err)
	}

	input := &dynamo.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          dynamo.Bool(false),
	}

	var records []domain.MediaRecord
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("media store: query %s: %w", userID, err)
		}

		var items []mediaItem
		if err := dynamo.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("media store: unmarshal: %w", err)
		}
		for _, item := range items {
			records = append(records, item.toDomain())
		}

		if filter.Limit > 0 && len(records) >= filter.Limit {
			return records[:filter.Limit], nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("media store: query %s: %w", userID, err)
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func keyCondition(userID string, f domain.MediaFilter) dynamo.KeyConditionBuilder {
	cond := dynamo.KeyEqual(dynamo.Key("user_id"), dynamo.Value(userID))
	sk := dynamo.Key("sort_key")
	switch {
	case !f.From.IsZero() && !f.To.IsZero():
		return cond.And(dynamo.KeyBetween(sk,
			dynamo.Value(f.From.UTC().Format(sortKeyLayout)),
			dynamo.Value(f.To.UTC().Format(sortKeyLayout)+sortKeyUpper)))
	case !f.From.IsZero():
		return cond.And(dynamo.KeyGreaterThanEqual(sk, dynamo.Value(f.From.UTC().Format(sortKeyLayout))))
	case !f.To.IsZero():
		return cond.And(dynamo.KeyLessThanEqual(sk, dynamo.Value(f.To.UTC().Format(sortKeyLayout)+sortKeyUpper)))
	}
	return cond
}

func filterCondition(f domain.MediaFilter) (dynamo.ConditionBuilder, bool) {
	var conds []dynamo.ConditionBuilder
	if f.Category != "" {
		conds = append(conds, dynamo.Name("category").Equal(dynamo.Value(string(f.Category))))
	}
	if f.Text != "" {
		conds = append(conds, dynamo.Contains(dynamo.Name("search_text"), searchTerm(f.Text)))
	}
	switch len(conds) {
	case 0:
		return dynamo.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return conds[0].And(conds[1]), true
	}
}

// CountByCategory tallies userID's records per category, reading only the
// category attribute.
func (s *MediaStore) CountByCategory(ctx context.Context, userID string) (map[domain.Category]int, error) {
	ctx, span := tracer.Start(ctx, "dynamo.media.count_by_category")
	defer span.End()

	expr, err := dynamo.NewExpressionBuilder().
		WithKeyCondition(dynamo.KeyEqual(dynamo.Key("user_id"), dynamo.Value(userID))).
		WithProjection(dynamo.NamesList(dynamo.Name("category"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("media store: build count: %w", err)
	}

	input := &dynamo.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	counts := make(map[domain.Category]int)
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("media store: count %s: %w", userID, err)
		}
		var items []struct {
			Category string `dynamodbav:"category"`
		}
		if err := dynamo.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("media store: unmarshal: %w", err)
		}
		for _, item := range items {
			counts[domain.Category(item.Category)]++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return counts, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
