// Package secrets resolves client secrets referenced from connection input as
// "$secret:NAME" so they never need to be stored with the credentials.
package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/awantoch/flowhook/constants"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretsProvider is a secret storage backend.
type SecretsProvider interface {
	GetSecret(ctx context.Context, key string) (string, error)
	Close() error
}

// Resolve returns value unchanged unless it is a "$secret:NAME" reference,
// in which case the named secret is fetched from p.
func Resolve(ctx context.Context, p SecretsProvider, value string) (string, error) {
	name, ok := strings.CutPrefix(value, constants.SecretRefPrefix)
	if !ok {
		return value, nil
	}
	if p == nil {
		return "", errors.New("secret reference " + value + " without a secrets provider")
	}
	return p.GetSecret(ctx, name)
}
