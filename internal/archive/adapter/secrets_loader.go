package adapter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/aelexs/archivebot/internal/domain"
)

// secretsGetter is the subset of Secrets Manager operations the loader needs.
type secretsGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsLoader resolves credentials that are not supplied inline.
type SecretsLoader struct {
	client secretsGetter
}

// NewSecretsLoader creates a SecretsLoader backed by client.
func NewSecretsLoader(client secretsGetter) *SecretsLoader {
	return &SecretsLoader{client: client}
}

// Resolve returns inline when set, otherwise the string value of secretID.
// Both empty is a configuration error.
func (l *SecretsLoader) Resolve(ctx context.Context, inline domain.SecretString, secretID string) (domain.SecretString, error) {
	if !inline.IsEmpty() {
		return inline, nil
	}
	if secretID == "" {
		return "", domain.ErrConfigRequired
	}

	out, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", secretID, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secrets: %s has no string value: %w", secretID, domain.ErrConfigInvalid)
	}
	return domain.SecretString(*out.SecretString), nil
}
