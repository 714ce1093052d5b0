package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Errors returned by NewS3.
var (
	ErrNoS3Client = errors.New("s3 client is required")
	ErrNoBucket   = errors.New("bucket is required")
)

// S3API is the subset of *s3.Client used by S3.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes objects under an optional key prefix of one bucket.
type S3 struct {
	client S3API

	bucket    string
	bucketPtr *string
	prefix    string
}

// NewS3 writes objects to bucket under prefix.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, ErrNoS3Client
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, ErrNoBucket
	}

	s := &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	s.bucketPtr = &s.bucket
	return s, nil
}

func (s *S3) Bucket() string { return s.bucket }

func (s *S3) Write(ctx context.Context, req WriteRequest) error {
	if req.Key == "" {
		return fmt.Errorf("empty key")
	}

	// Keys are joined as-is; S3 keys are not paths.
	key := strings.TrimLeft(req.Key, "/")
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	cl := int64(len(req.Data))
	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &key,
		Body:          bytes.NewReader(req.Data),
		ContentLength: &cl,
	}
	if req.ContentType != "" {
		ct := req.ContentType
		input.ContentType = &ct
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}
