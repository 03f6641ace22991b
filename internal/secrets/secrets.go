// Package secrets is the boundary to the external secret store. Credentials
// are fetched lazily and treated as opaque strings afterwards.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"repriceflow/logger"
	"repriceflow/models"
)

// Provider fetches LWA credentials for the token refresh flow.
type Provider interface {
	Credentials(ctx context.Context) (models.Credentials, error)
}

// ManagerProvider reads the credential secret from AWS Secrets Manager. The
// secret value is a JSON document holding lwa_app_id, lwa_client_secret and
// refresh_token. Only a successful fetch is cached; a transient failure at
// startup is retried on the next call instead of being returned forever.
type ManagerProvider struct {
	secretID string
	region   string

	mu     sync.Mutex
	creds  models.Credentials
	loaded bool

	fetch func(ctx context.Context) (models.Credentials, error)

	log *logger.Log
}

// NewManagerProvider creates a provider for the named secret.
func NewManagerProvider(secretID, region string) *ManagerProvider {
	p := &ManagerProvider{
		secretID: secretID,
		region:   region,
		log:      logger.GetLogger(),
	}
	p.fetch = p.fetchSecret
	return p
}

// Credentials loads and caches the credential secret. Secret values are never
// logged, only the secret id and the failure reason.
func (p *ManagerProvider) Credentials(ctx context.Context) (models.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.creds, nil
	}

	creds, err := p.fetch(ctx)
	if err != nil {
		return models.Credentials{}, err
	}
	p.creds = creds
	p.loaded = true
	return p.creds, nil
}

func (p *ManagerProvider) fetchSecret(ctx context.Context) (models.Credentials, error) {
	log := p.log.WithComponent("secrets").WithFields(logger.Fields{"secret_id": p.secretID})

	opts := []func(*awsconfig.LoadOptions) error{}
	if p.region != "" {
		opts = append(opts, awsconfig.WithRegion(p.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Error("failed to load AWS configuration")
		return models.Credentials{}, fmt.Errorf("load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &p.secretID,
	})
	if err != nil {
		log.WithError(err).Error("failed to read credential secret")
		return models.Credentials{}, fmt.Errorf("get secret value %s: %w", p.secretID, err)
	}
	if out.SecretString == nil {
		return models.Credentials{}, fmt.Errorf("secret %s has no string value", p.secretID)
	}

	var creds models.Credentials
	if err := json.Unmarshal([]byte(*out.SecretString), &creds); err != nil {
		log.WithError(err).Error("failed to parse credential secret")
		return models.Credentials{}, fmt.Errorf("parse secret %s: %w", p.secretID, err)
	}
	if err := creds.Validate(); err != nil {
		return models.Credentials{}, fmt.Errorf("secret %s: %w", p.secretID, err)
	}

	log.Info("marketplace credentials loaded")
	return creds, nil
}

// StaticProvider returns fixed credentials. Used by tests and local runs.
type StaticProvider struct {
	Creds models.Credentials
}

func (p StaticProvider) Credentials(ctx context.Context) (models.Credentials, error) {
	if err := p.Creds.Validate(); err != nil {
		return models.Credentials{}, err
	}
	return p.Creds, nil
}
