package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

var gmkScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}

// gmkTokenProvider authenticates to GCP Managed Kafka with application
// default credentials.
type gmkTokenProvider struct {
	lg *zap.Logger
}

func newGMKTokenProvider(lg *zap.Logger) *gmkTokenProvider {
	return &gmkTokenProvider{lg: lg}
}

func (p *gmkTokenProvider) Token() (*sarama.AccessToken, error) {
	creds, err := google.FindDefaultCredentials(context.Background(), gmkScopes...)
	if err != nil {
		return nil, fmt.Errorf("kafka: find default credentials: %w", err)
	}

	token, err := creds.TokenSource.Token()
	if err != nil {
		p.lg.Warn("gmk token refresh failed", zap.Error(err))
		return nil, fmt.Errorf("kafka: token: %w", err)
	}

	return &sarama.AccessToken{Token: token.AccessToken}, nil
}
