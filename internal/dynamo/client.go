// Package dynamo provides the DynamoDB client factory. Only this package
// imports the DynamoDB SDK; adapters use the re-exported types and helpers.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aelexs/archivebot/internal/awscfg"
)

// Config holds DynamoDB connection parameters.
type Config struct {
	// Endpoint overrides the default AWS endpoint, e.g. a LocalStack URL.
	Endpoint string
	Region   string
	Timeout  time.Duration
}

// Client wraps the AWS DynamoDB SDK client.
type Client struct {
	DB *dynamodb.Client
}

// NewClient creates a DynamoDB client configured from cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awscfg.Load(ctx, awscfg.Config{
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo client: %w", err)
	}

	endpoint := awscfg.BaseEndpoint(cfg.Endpoint)
	return &Client{
		DB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != nil {
				o.BaseEndpoint = endpoint
			}
		}),
	}, nil
}

// Core operation types.
type (
	GetItemInput     = dynamodb.GetItemInput
	GetItemOutput    = dynamodb.GetItemOutput
	PutItemInput     = dynamodb.PutItemInput
	PutItemOutput    = dynamodb.PutItemOutput
	QueryInput       = dynamodb.QueryInput
	QueryOutput      = dynamodb.QueryOutput
	UpdateItemInput  = dynamodb.UpdateItemInput
	UpdateItemOutput = dynamodb.UpdateItemOutput
)

// Attribute value types.
type (
	AttributeValue           = types.AttributeValue
	AttributeValueMemberS    = types.AttributeValueMemberS
	AttributeValueMemberN    = types.AttributeValueMemberN
	AttributeValueMemberBOOL = types.AttributeValueMemberBOOL
	AttributeValueMemberL    = types.AttributeValueMemberL
)

// Options is the DynamoDB client options type, re-exported so adapter
// interfaces can declare optFns variadic params.
type Options = dynamodb.Options

// Expression builder types and constructors.
type (
	Expression          = expression.Expression
	ConditionBuilder    = expression.ConditionBuilder
	KeyConditionBuilder = expression.KeyConditionBuilder
	UpdateBuilder       = expression.UpdateBuilder
	ProjectionBuilder   = expression.ProjectionBuilder
)

var (
	NewExpressionBuilder = expression.NewBuilder
	Name                 = expression.Name
	Value                = expression.Value
	Key                  = expression.Key
	KeyEqual             = expression.KeyEqual
	KeyBetween           = expression.KeyBetween
	KeyGreaterThanEqual  = expression.KeyGreaterThanEqual
	KeyLessThanEqual     = expression.KeyLessThanEqual
	Set                  = expression.Set
	AttributeExists      = expression.AttributeExists
	Contains             = expression.Contains
	NamesList            = expression.NamesList
)

// Bool returns a pointer to a bool value.
var Bool = aws.Bool

// String returns a pointer to a string value.
var String = aws.String

// Int32 returns a pointer to an int32 value.
var Int32 = aws.Int32

// MarshalMap serializes a Go value into a DynamoDB attribute value map.
var MarshalMap = attributevalue.MarshalMap

// UnmarshalMap deserializes a DynamoDB attribute value map into a Go value.
var UnmarshalMap = attributevalue.UnmarshalMap

// UnmarshalListOfMaps deserializes query result items.
var UnmarshalListOfMaps = attributevalue.UnmarshalListOfMaps

// IsConditionalCheckFailed reports whether err is a DynamoDB
// ConditionalCheckFailedException.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ErrConditionalCheckFailed returns a ConditionalCheckFailedException for
// adapter tests. DynamoDB is the only producer in production.
func ErrConditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}
