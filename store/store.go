package store

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"text2phenotype.com/seqtag/logger"
	"text2phenotype.com/seqtag/redis"
)

const s3Scheme = "s3://"

var storeLogger = logger.NewLogger("Artifact store")

// Downloader fetches an S3 object into w.
type Downloader interface {
	Download(bucket, key string, w io.WriterAt) (int64, error)
}

// Locker serializes artifact downloads across replicas sharing a cache directory.
type Locker interface {
	Lock(ctx context.Context, key string) (redis.ReleaseLock, error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (redis.ReleaseLock, error) {
	return func() error { return nil }, nil
}

// Store resolves model locations to readers or local files. Locations are filesystem
// paths or s3://bucket/key URLs; S3 objects are downloaded once into cacheDir.
type Store struct {
	cacheDir   string
	downloader Downloader
	locker     Locker
}

// New returns a Store. downloader may be nil when no location points to S3; locker may be
// nil when the cache directory is not shared.
func New(cacheDir string, downloader Downloader, locker Locker) *Store {
	if locker == nil {
		locker = noopLocker{}
	}
	return &Store{cacheDir: cacheDir, downloader: downloader, locker: locker}
}

func IsS3(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(location string) (bucket string, key string, err error) {
	if !IsS3(location) {
		return "", "", fmt.Errorf("%q is not an s3 url", location)
	}
	rest := strings.TrimPrefix(location, s3Scheme)
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("s3 url %q must look like s3://bucket/key", location)
	}
	return rest[:idx], rest[idx+1:], nil
}

func (s *Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	path, err := s.Localize(ctx, location)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Localize returns a local file path holding the artifact.
func (s *Store) Localize(ctx context.Context, location string) (string, error) {
	if !IsS3(location) {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("artifact %s: %w", location, err)
		}
		return location, nil
	}
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return "", err
	}
	local := filepath.Join(s.cacheDir, bucket, filepath.FromSlash(key))
	if exists(local) {
		return local, nil
	}
	if s.downloader == nil {
		return "", fmt.Errorf("artifact %s: no S3 client configured", location)
	}

	release, err := s.locker.Lock(ctx, "artifact:"+bucket+"/"+key)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := release(); err != nil {
			storeLogger.Err(err).Str("location", location).Msg("Failed to release download lock")
		}
	}()
	if exists(local) {
		return local, nil
	}
	if err := s.download(bucket, key, local); err != nil {
		storeLogger.Err(err).Str("location", location).Msg("Failed to download artifact")
		return "", fmt.Errorf("artifact %s: %w", location, err)
	}
	return local, nil
}

func (s *Store) download(bucket, key, local string) (err error) {
	if err = os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Dir(local), filepath.Base(local)+".*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	n, err := s.downloader.Download(bucket, key, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	storeLogger.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("Artifact downloaded")
	return os.Rename(tmp.Name(), local)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
