package dynamo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/dynamo"
)

func TestNewClientWithEndpoint(t *testing.T) {
	client, err := dynamo.NewClient(context.Background(), dynamo.Config{
		Endpoint: "http://localhost:4566",
		Region:   "us-east-2",
		Timeout:  5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client.DB)
	require.NotNil(t, client.DB.Options().BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *client.DB.Options().BaseEndpoint)
}

func TestNewClientWithDefaultEndpoint(t *testing.T) {
	client, err := dynamo.NewClient(context.Background(), dynamo.Config{
		Region:  "us-east-2",
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client.DB)
	assert.Nil(t, client.DB.Options().BaseEndpoint)
}

func TestIsConditionalCheckFailed(t *testing.T) {
	assert.True(t, dynamo.IsConditionalCheckFailed(dynamo.ErrConditionalCheckFailed()))
	assert.True(t, dynamo.IsConditionalCheckFailed(fmt.Errorf("put: %w", dynamo.ErrConditionalCheckFailed())))
	assert.False(t, dynamo.IsConditionalCheckFailed(errors.New("throttled")))
}
