package s3client

import (
	"bytes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestAwsConfigWithEndpoint(t *testing.T) {
	client := &Client{env: EnvironmentConfig{
		Region:      "us-east-1",
		AwsEndpoint: "http://localstack:4566",
		AccessKeyID: "id",
		AccessKey:   "secret",
	}}
	assert.True(t, client.hasEnvCredentials())

	cfg, err := client.awsConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", *cfg.Region)
	assert.Equal(t, "http://localstack:4566", *cfg.Endpoint)
	assert.True(t, *cfg.S3ForcePathStyle)
	assert.NotNil(t, cfg.Credentials)
}

func TestAwsConfigDefaultChain(t *testing.T) {
	client := &Client{env: EnvironmentConfig{Region: "eu-west-1", AccessKeyID: "id"}}
	assert.False(t, client.hasEnvCredentials())

	cfg, err := client.awsConfig(false)
	require.NoError(t, err)
	assert.Nil(t, cfg.Endpoint)
	assert.Nil(t, cfg.Credentials)
}

func TestSdkLoggerWritesDebug(t *testing.T) {
	var buf bytes.Buffer
	log := getLogger(zerolog.New(&buf))
	log.Log("DEBUG: Request", "s3/GetObject")
	assert.Contains(t, buf.String(), "s3/GetObject")
	assert.Contains(t, buf.String(), `"level":"debug"`)
}
