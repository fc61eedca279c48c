package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager uses application default credentials unless
// credentialsFile is set.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := SecretVersionName(g.projectID, secretName)

	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}
	return string(result.Payload.Data), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		g.logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// SecretVersionName is the resource name of the latest version of a secret.
func SecretVersionName(projectID, secretName string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretName)
}

// SecretNames maps feed credentials to Secret Manager secret ids.
type SecretNames struct {
	FeedAPIKey     string `mapstructure:"feed_api_key"`
	FeedAPISecret  string `mapstructure:"feed_api_secret"`
	FeedPassphrase string `mapstructure:"feed_passphrase"`
	FeedAPIKeyName string `mapstructure:"feed_api_key_name"`
	FeedPrivateKey string `mapstructure:"feed_private_key"`
	RedisPassword  string `mapstructure:"redis_password"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		FeedAPIKey:     "statarb-feed-api-key",
		FeedAPISecret:  "statarb-feed-api-secret",
		FeedPassphrase: "statarb-feed-passphrase",
		FeedAPIKeyName: "statarb-feed-api-key-name",
		FeedPrivateKey: "statarb-feed-private-key",
		RedisPassword:  "statarb-redis-password",
	}
}
