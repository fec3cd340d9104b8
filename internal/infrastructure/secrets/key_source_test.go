package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSecretsClient struct {
	calls int
	gotID string
	value *string
	err   error
}

func (f *fakeSecretsClient) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	f.gotID = aws.ToString(params.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestNewManagerKeySource_RequiresSecretID(t *testing.T) {
	_, err := NewManagerKeySource(&fakeSecretsClient{}, "", zap.NewNop())
	assert.Error(t, err)
}

func TestManagerKeySource_APIKey(t *testing.T) {
	client := &fakeSecretsClient{value: aws.String("sk_live_rotated")}
	source, err := NewManagerKeySource(client, "prod/metering/stripe-key", zap.NewNop())
	require.NoError(t, err)

	key, err := source.APIKey(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sk_live_rotated", key)
	assert.Equal(t, "prod/metering/stripe-key", client.gotID)
}

func TestManagerKeySource_TrimsWhitespace(t *testing.T) {
	client := &fakeSecretsClient{value: aws.String("  sk_live_rotated\n")}
	source, err := NewManagerKeySource(client, "prod/metering/stripe-key", zap.NewNop())
	require.NoError(t, err)

	key, err := source.APIKey(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sk_live_rotated", key)
}

func TestManagerKeySource_FetchesFreshValueEveryCall(t *testing.T) {
	client := &fakeSecretsClient{value: aws.String("sk_live_v1")}
	source, err := NewManagerKeySource(client, "prod/metering/stripe-key", zap.NewNop())
	require.NoError(t, err)

	_, err = source.APIKey(context.Background())
	require.NoError(t, err)

	// A rotation between cycles must be visible on the next call.
	client.value = aws.String("sk_live_v2")
	key, err := source.APIKey(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sk_live_v2", key)
	assert.Equal(t, 2, client.calls)
}

func TestManagerKeySource_FetchError(t *testing.T) {
	client := &fakeSecretsClient{err: errors.New("access denied")}
	source, err := NewManagerKeySource(client, "prod/metering/stripe-key", zap.NewNop())
	require.NoError(t, err)

	_, err = source.APIKey(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch secret")
}

func TestManagerKeySource_EmptySecret(t *testing.T) {
	client := &fakeSecretsClient{value: aws.String("   ")}
	source, err := NewManagerKeySource(client, "prod/metering/stripe-key", zap.NewNop())
	require.NoError(t, err)

	_, err = source.APIKey(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no string value")
}

func TestStaticKeySource(t *testing.T) {
	source, err := NewStaticKeySource("sk_test_local")
	require.NoError(t, err)

	key, err := source.APIKey(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sk_test_local", key)
}

func TestNewStaticKeySource_RequiresKey(t *testing.T) {
	_, err := NewStaticKeySource("")
	assert.Error(t, err)
}
