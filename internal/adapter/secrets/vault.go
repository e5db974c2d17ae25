package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

// VaultSource resolves rail credentials from a HashiCorp Vault KV v2 mount.
// Deployments that keep credentials in Vault instead of local encrypted
// files plug this in behind ports.CredentialSource.
type VaultSource struct {
	client    *api.Client
	mountPath string
	log       *zap.Logger
}

func NewVaultSource(address, token, mountPath string, log *zap.Logger) (*VaultSource, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	if mountPath == "" {
		mountPath = "secret"
	}

	return &VaultSource{client: client, mountPath: mountPath, log: log}, nil
}

// Credential implements ports.CredentialSource. Secrets live at
// <mount>/data/rails/<name> with a single "value" key.
func (v *VaultSource) Credential(ctx context.Context, name string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/data/rails/%s", v.mountPath, name))
	if err != nil {
		return "", fmt.Errorf("vault read failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
	}

	return value, nil
}
