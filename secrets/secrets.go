package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
)

// NewSecretsProvider creates a secrets provider from configuration.
func NewSecretsProvider(ctx context.Context, cfg config.SecretsConfig) (SecretsProvider, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", constants.SecretsDriverEnv:
		return NewEnvSecretsProvider(cfg.Prefix), nil
	case "aws-sm", constants.SecretsDriverAWS:
		return NewAWSSecretsProvider(ctx, cfg.Region, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported secrets driver: %s", cfg.Driver)
	}
}
