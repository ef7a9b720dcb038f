package worker

import (
	"errors"
	"github.com/aws/aws-sdk-go/aws"
	"text2phenotype.com/seqtag/s3client"
	"text2phenotype.com/seqtag/store"
)

type s3Transactions interface {
	getText(location string) ([]byte, error)
	close()
}

type s3ClientWrapper struct {
	s3Client *s3client.Client
}

func (wrapper *s3ClientWrapper) close() {}

func (wrapper *s3ClientWrapper) getText(location string) ([]byte, error) {
	bucket, key, err := store.ParseS3URL(location)
	if err != nil {
		return nil, err
	}
	buf := aws.NewWriteAtBuffer([]byte{})
	if _, err = wrapper.s3Client.Download(bucket, key, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type noS3 struct{}

func (noS3) close() {}

func (noS3) getText(location string) ([]byte, error) {
	return nil, errors.New("S3 is not configured, cannot fetch " + location)
}
