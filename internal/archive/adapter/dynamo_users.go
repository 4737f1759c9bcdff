package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/dynamo"
)

// userDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the user store needs. The *dynamodb.Client satisfies it.
type userDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

var _ app.UserStore = (*UserStore)(nil)

const (
	uniqueCodeIndex = "unique_code-index"
	whatsAppIndex   = "whatsapp_number-index"
)

// userItem is the DynamoDB item shape for the users table. Accounts are
// created by the web registration flow; this service reads them and
// writes only the verification binding.
type userItem struct {
	UserID         string `dynamodbav:"user_id"`
	Name           string `dynamodbav:"name"`
	Email          string `dynamodbav:"email"`
	UniqueCode     string `dynamodbav:"unique_code"`
	WhatsAppNumber string `dynamodbav:"whatsapp_number,omitempty"`
	IsVerified     bool   `dynamodbav:"is_verified"`
	VerifiedAt     string `dynamodbav:"verified_at,omitempty"`
}

func (i userItem) toDomain() *domain.User {
	u := &domain.User{
		ID:             i.UserID,
		Name:           i.Name,
		Email:          i.Email,
		UniqueCode:     i.UniqueCode,
		WhatsAppNumber: i.WhatsAppNumber,
		Verified:       i.IsVerified,
	}
	if t, err := time.Parse(time.RFC3339, i.VerifiedAt); err == nil {
		u.VerifiedAt = t
	}
	return u
}

// UserStore reads archive accounts from DynamoDB.
type UserStore struct {
	db        userDynamoDB
	tableName string
}

// NewUserStore creates a UserStore backed by the given DynamoDB client.
func NewUserStore(db userDynamoDB, tableName string) *UserStore {
	return &UserStore{db: db, tableName: tableName}
}

// GetByID retrieves a user with a strongly consistent read.
func (s *UserStore) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("user store: get by id: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user store: get by id: %w", domain.ErrNotFound)
	}

	var item userItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("user store: unmarshal user: %w", err)
	}
	return item.toDomain(), nil
}

// FindByCode resolves a verification code via the unique_code-index GSI.
func (s *UserStore) FindByCode(ctx context.Context, code string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "dynamo.users.find_by_code")
	defer span.End()

	user, err := s.findByIndex(ctx, uniqueCodeIndex, "unique_code", code)
	if err != nil && !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return user, err
}

// FindByWhatsApp resolves the account bound to a transport identity via the
// whatsapp_number-index GSI.
func (s *UserStore) FindByWhatsApp(ctx context.Context, number string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "dynamo.users.find_by_whatsapp")
	defer span.End()

	user, err := s.findByIndex(ctx, whatsAppIndex, "whatsapp_number", number)
	if err != nil && !domain.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return user, err
}

// findByIndex queries a GSI for the user_id projection, then reads the full
// record consistently. GSIs are eventually consistent, so a binding
// written moments ago may not be visible yet.
func (s *UserStore) findByIndex(ctx context.Context, index, attr, value string) (*domain.User, error) {
	keyExpr := attr + " = :v"
	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &index,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":v": &dynamo.AttributeValueMemberS{Value: value},
		},
		Limit: dynamo.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("user store: query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user store: query %s: %w", index, domain.ErrNotFound)
	}

	var projected struct {
		UserID string `dynamodbav:"user_id"`
	}
	if err := dynamo.UnmarshalMap(out.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("user store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("user store: query %s: %w", index, err)
	}
	return s.GetByID(ctx, projected.UserID)
}

// MarkVerified binds number to the user and flags the account verified.
// The account must already exist.
func (s *UserStore) MarkVerified(ctx context.Context, userID, number string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.users.mark_verified")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"))

	update := dynamo.Set(dynamo.Name("whatsapp_number"), dynamo.Value(number)).
		Set(dynamo.Name("is_verified"), dynamo.Value(true)).
		Set(dynamo.Name("verified_at"), dynamo.Value(at.UTC().Format(time.RFC3339)))
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(update).
		WithCondition(dynamo.AttributeExists(dynamo.Name("user_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("user store: build update: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("user store: mark verified %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("user store: mark verified %s: %w", userID, err)
	}
	return nil
}
