package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
)

func TestNeedsAWS(t *testing.T) {
	tests := []struct {
		name string
		cfg  *appconfig.Config
		want bool
	}{
		{name: "nil", cfg: nil},
		{name: "memory queue", cfg: &appconfig.Config{UseMemoryQueue: true, SQSQueueURL: "http://q"}},
		{name: "sqs", cfg: &appconfig.Config{SQSQueueURL: "http://q"}, want: true},
		{name: "archive", cfg: &appconfig.Config{UseMemoryQueue: true, ArchiveBucket: "alerts"}, want: true},
		{name: "ses", cfg: &appconfig.Config{UseMemoryQueue: true, EmailProvider: "ses"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsAWS(tt.cfg))
		})
	}
}

func TestEndpointOverride(t *testing.T) {
	resolver := endpointOverride("http://localhost:4566", "ap-southeast-2")

	ep, err := resolver.ResolveEndpoint(sqs.ServiceID, "ap-southeast-2")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)
	assert.Equal(t, "ap-southeast-2", ep.SigningRegion)
	assert.False(t, ep.HostnameImmutable)

	ep, err = resolver.ResolveEndpoint(s3.ServiceID, "ap-southeast-2")
	require.NoError(t, err)
	assert.True(t, ep.HostnameImmutable)

	_, err = resolver.ResolveEndpoint("DynamoDB", "ap-southeast-2")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "ap-southeast-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
	assert.NotNil(t, awsCfg.EndpointResolverWithOptions)
}
