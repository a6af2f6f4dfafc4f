package hearthauth

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/savaki/secrets"
)

type signingSecret struct {
	SigningKey string `json:"signing_key"`
	Issuer     string `json:"issuer"`
}

// BuildValidator loads the session signing secret from AWS Secrets Manager
// and constructs a Validator from it.
func BuildValidator(s *session.Session, secretName string) (*Validator, error) {
	api := secrets.WithSecretsManager(secretsmanager.New(s))
	manager, err := secrets.NewManager(api)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets: %w", err)
	}

	var data signingSecret
	if err := manager.Decode(secretName, &data); err != nil {
		return nil, fmt.Errorf("failed to load secret %v: %v", secretName, err)
	}
	if data.SigningKey == "" {
		return nil, fmt.Errorf("secret %v has no signing_key", secretName)
	}

	return NewValidator([]byte(data.SigningKey), data.Issuer), nil
}

// SecretName returns the Secrets Manager name for the given environment.
func SecretName(env string) string {
	return env + "-hearth-realtime--session-signing"
}
