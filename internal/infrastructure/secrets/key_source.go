// Package secrets resolves the billing provider API key. The key is read
// fresh on every call so a rotated secret takes effect on the next publish
// cycle without restarting the worker.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// secretsAPI is the narrow Secrets Manager surface this package needs.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ManagerKeySource fetches the API key from AWS Secrets Manager.
type ManagerKeySource struct {
	client   secretsAPI
	secretID string
	logger   *zap.Logger
}

// NewManagerKeySource creates a key source backed by Secrets Manager.
func NewManagerKeySource(client secretsAPI, secretID string, logger *zap.Logger) (*ManagerKeySource, error) {
	if secretID == "" {
		return nil, fmt.Errorf("secrets: secret ID is required")
	}
	return &ManagerKeySource{
		client:   client,
		secretID: secretID,
		logger:   logger,
	}, nil
}

// APIKey resolves the current value of the configured secret.
func (s *ManagerKeySource) APIKey(ctx context.Context) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		s.logger.Error("Failed to fetch billing API key secret",
			zap.String("secret_id", s.secretID),
			zap.Error(err))
		return "", fmt.Errorf("secrets: failed to fetch secret %q: %w", s.secretID, err)
	}

	if out.SecretString == nil || strings.TrimSpace(*out.SecretString) == "" {
		return "", fmt.Errorf("secrets: secret %q has no string value", s.secretID)
	}

	return strings.TrimSpace(*out.SecretString), nil
}

// StaticKeySource returns a fixed API key. Used for local development where
// the key is supplied directly through configuration.
type StaticKeySource struct {
	key string
}

// NewStaticKeySource creates a key source with a fixed key.
func NewStaticKeySource(key string) (*StaticKeySource, error) {
	if key == "" {
		return nil, fmt.Errorf("secrets: API key is required")
	}
	return &StaticKeySource{key: key}, nil
}

// APIKey returns the fixed key.
func (s *StaticKeySource) APIKey(context.Context) (string, error) {
	return s.key, nil
}
