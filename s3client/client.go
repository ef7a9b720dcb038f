package s3client

import (
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"io"
	"text2phenotype.com/seqtag/logger"
)

// Client downloads model artifacts. The AWS session is owned by a background goroutine
// that replaces it whenever a request reports a failure.
type Client struct {
	holder *sessionHolder
	env    EnvironmentConfig
}

type sessionHolder struct {
	curr      *session.Session
	requestCh <-chan *session.Session
	errorCh   chan<- error
	closeCh   chan<- struct{}
}

var clientLogger = logger.NewLogger("S3Client")
var sdkLogger = logger.NewLogger("S3-SDK")

type EnvironmentConfig struct {
	Region      string `envconfig:"SEQTAG_S3_REGION" required:"true"`
	AwsEndpoint string `envconfig:"SEQTAG_S3_ENDPOINT_URL" default:""`
	AccessKeyID string `envconfig:"SEQTAG_S3_ACCESS_ID" default:""`
	AccessKey   string `envconfig:"SEQTAG_S3_ACCESS_KEY" default:""`
}

func New() (*Client, error) {
	errLogger := clientLogger.With().Caller().Logger()
	env, err := readEnvironment(&errLogger)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(env)
}

func NewWithConfig(env EnvironmentConfig) (*Client, error) {
	client := Client{env: env}
	sessionCh := make(chan *session.Session)
	errorCh := make(chan error)
	closeCh := make(chan struct{}, 1)
	client.holder = &sessionHolder{
		requestCh: sessionCh,
		errorCh:   errorCh,
		closeCh:   closeCh,
	}
	if err := client.acquireNewSession(); err != nil {
		return nil, err
	}
	go keepSessionRefreshed(&client, sessionCh, errorCh, closeCh)
	return &client, nil
}

// Download writes s3://bucket/key into w and returns the number of bytes written.
// A failed download is retried once on a fresh session.
func (client *Client) Download(bucket, key string, w io.WriterAt) (int64, error) {
	params := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	sess, err := client.session()
	if err != nil {
		return 0, err
	}
	n, err := client.download(sess, params, w)
	if err == nil {
		return n, nil
	}
	sess, err = client.tryRefreshingSession(err)
	if err != nil {
		return 0, err
	}
	return client.download(sess, params, w)
}

func (client *Client) Close() {
	client.holder.closeCh <- struct{}{}
}

func (client *Client) download(sess *session.Session, params *s3.GetObjectInput, w io.WriterAt) (int64, error) {
	log := clientLogger.With().
		Str("key", *params.Key).
		Str("bucket", *params.Bucket).Logger()
	sdkLog := sdkLogger.With().
		Str("key", *params.Key).
		Str("bucket", *params.Bucket).Logger()

	downloader := s3manager.NewDownloader(sess.Copy(&aws.Config{Logger: getLogger(sdkLog)}))
	log.Debug().Msg("Downloading object")
	size, err := downloader.Download(w, params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download object")
		return 0, err
	}
	log.Debug().Int64("bytes", size).Msg("Downloaded object")
	return size, nil
}

func keepSessionRefreshed(client *Client, sessionCh chan<- *session.Session, errorCh <-chan error, closeCh <-chan struct{}) {
	for {
		select {
		case sessionCh <- client.holder.curr:
			continue
		default:
		}
		select {
		case sessionCh <- client.holder.curr:
		case err := <-errorCh:
			clientLogger.Error().Err(err).Msg("Caught error while using S3 session, trying to refresh it")
			if err = client.acquireNewSession(); err != nil {
				clientLogger.Error().Err(err).Msg("Caught error while refreshing S3 session")
				continue
			}
			clientLogger.Info().Msg("Successfully refreshed session")
		case <-closeCh:
			clientLogger.Info().Msg("Closing client")
			return
		}
	}
}

func (client *Client) tryRefreshingSession(err error) (*session.Session, error) {
	var sess *session.Session
	select {
	case client.holder.errorCh <- err:
		sess = <-client.holder.requestCh
	case sess = <-client.holder.requestCh:
	}
	if sess == nil {
		return nil, errors.New("failed to refresh session")
	}
	return sess, nil
}

func (client *Client) session() (*session.Session, error) {
	sess := <-client.holder.requestCh
	if sess == nil {
		return nil, errors.New("could not get session")
	}
	return sess, nil
}

// awsConfig returns the SDK config. Static credentials are used only when both the key id
// and the secret are set; a custom endpoint switches to path-style addressing.
func (client *Client) awsConfig(withEnvCredentials bool) (*aws.Config, error) {
	cfg := aws.NewConfig().
		WithRegion(client.env.Region).
		WithMaxRetries(4).
		WithLogLevel(aws.LogDebug)
	if withEnvCredentials {
		creds := credentials.NewStaticCredentials(client.env.AccessKeyID, client.env.AccessKey, "")
		if _, err := creds.Get(); err != nil {
			return nil, fmt.Errorf("invalid credentials in environment: %w", err)
		}
		cfg = cfg.WithCredentials(creds)
	}
	if client.env.AwsEndpoint != "" {
		cfg = cfg.WithEndpoint(client.env.AwsEndpoint).WithS3ForcePathStyle(true)
	}
	return cfg, nil
}

func (client *Client) hasEnvCredentials() bool {
	return client.env.AccessKeyID != "" && client.env.AccessKey != ""
}

func (client *Client) acquireNewSession() error {
	var attempts []bool
	if client.hasEnvCredentials() {
		attempts = append(attempts, true)
	}
	attempts = append(attempts, false)
	var lastErr error
	for _, withEnv := range attempts {
		cfg, err := client.awsConfig(withEnv)
		if err != nil {
			lastErr = err
			continue
		}
		sess, err := session.NewSession(cfg)
		if err != nil {
			lastErr = err
			continue
		}
		if client.env.AwsEndpoint == "" {
			if _, err = sts.New(sess).GetCallerIdentity(&sts.GetCallerIdentityInput{}); err != nil {
				clientLogger.Info().Bool("env_credentials", withEnv).Msg("Could not verify S3 session identity")
				lastErr = err
				continue
			}
		}
		client.holder.curr = sess
		clientLogger.Info().Bool("env_credentials", withEnv).Msg("S3 session successfully initialized")
		return nil
	}
	client.holder.curr = nil
	clientLogger.Error().Err(lastErr).Msg("Could not initialize S3 session")
	return fmt.Errorf("could not initialize S3 session: %w", lastErr)
}

func readEnvironment(errLogger *zerolog.Logger) (EnvironmentConfig, error) {
	var config EnvironmentConfig
	err := envconfig.Process("", &config)
	if err != nil {
		errLogger.Err(err).Msg("Got error while processing environment")
		return config, err
	}
	return config, nil
}

type s3Logger struct {
	log zerolog.Logger
}

func getLogger(log zerolog.Logger) *s3Logger {
	return &s3Logger{log}
}

func (logger *s3Logger) Log(v ...interface{}) {
	logger.log.Debug().Msg(fmt.Sprint(v...))
}
