// Package secrets fetches relay secrets (the Feishu bot URL and shared
// signing secrets) from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"os"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"

	"github.com/codeGROOVE-dev/larkhook/pkg/logger"
)

const (
	// secretManagerTimeout prevents indefinite hangs when accessing secrets.
	secretManagerTimeout = 10 * time.Second
)

// Manager handles fetching secrets from Google Secret Manager.
type Manager struct {
	client    *secretmanager.Client
	projectID string
}

// New creates a new secrets manager with optional credentials.
// If credentialsPath is empty, it uses Application Default Credentials.
func New(ctx context.Context, projectID, credentialsPath string) (*Manager, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &Manager{
		client:    client,
		projectID: projectID,
	}, nil
}

// Secret returns the latest version of the named secret. An environment
// variable with the same name takes precedence.
func (m *Manager) Secret(ctx context.Context, name string) (string, error) {
	if value := os.Getenv(name); value != "" {
		logger.Info(ctx, "using environment variable instead of secret", logger.Fields{"name": name})
		return value, nil
	}

	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.projectID, name)

	timeoutCtx, cancel := context.WithTimeout(ctx, secretManagerTimeout)
	defer cancel()

	result, err := m.client.AccessSecretVersion(timeoutCtx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", resourceName, err)
	}

	value := string(result.GetPayload().GetData())
	logger.Info(ctx, "fetched secret from Secret Manager", logger.Fields{
		"name":       name,
		"project_id": m.projectID,
		"has_value":  value != "",
	})
	return value, nil
}

// Close closes the Secret Manager client connection.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
