package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/awantoch/flowhook/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]string
	calls  []string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	name := aws.ToString(in.SecretId)
	f.calls = append(f.calls, name)
	v, ok := f.values[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestEnvSecretsProvider(t *testing.T) {
	t.Setenv("FH_DROPBOX_SECRET", "prefixed")
	t.Setenv("PLAIN_SECRET", "plain")
	p := NewEnvSecretsProvider("FH_")
	ctx := context.Background()

	v, err := p.GetSecret(ctx, "DROPBOX_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", v)

	v, err = p.GetSecret(ctx, "PLAIN_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = p.GetSecret(ctx, "NOPE")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestAWSSecretsProviderPrefixFallback(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"prod/dropbox": "a", "shared": "b"}}
	p := NewAWSSecretsProviderWithClient(fake, "prod/")
	ctx := context.Background()

	v, err := p.GetSecret(ctx, "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = p.GetSecret(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, []string{"prod/dropbox", "prod/shared", "shared"}, fake.calls)

	_, err = p.GetSecret(ctx, "absent")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolve(t *testing.T) {
	t.Setenv("CLIENT_SECRET", "s3cret")
	p := NewEnvSecretsProvider("")
	ctx := context.Background()

	v, err := Resolve(ctx, p, "$secret:CLIENT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = Resolve(ctx, p, "literal")
	require.NoError(t, err)
	assert.Equal(t, "literal", v)

	_, err = Resolve(ctx, nil, "$secret:X")
	assert.Error(t, err)
}

func TestNewSecretsProvider(t *testing.T) {
	p, err := NewSecretsProvider(context.Background(), config.SecretsConfig{})
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretsProvider{}, p)

	_, err = NewSecretsProvider(context.Background(), config.SecretsConfig{Driver: "aws"})
	assert.ErrorContains(t, err, "region")

	_, err = NewSecretsProvider(context.Background(), config.SecretsConfig{Driver: "vault"})
	assert.Error(t, err)
}
