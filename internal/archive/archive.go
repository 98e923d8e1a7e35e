// Package archive stores monthly revision training exports in S3.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

type s3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes export files to a bucket.
type Store struct {
	api    s3API
	bucket string
	logger *logging.Logger
}

func NewStore(api s3API, bucket string, logger *logging.Logger) *Store {
	if api == nil {
		panic("archive: s3 client cannot be nil")
	}
	if bucket == "" {
		panic("archive: bucket cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{api: api, bucket: bucket, logger: logger}
}

var contentTypes = map[string]string{
	"json": "application/json",
	"csv":  "text/csv",
}

// StoreTrainingExport uploads one month's export and returns its key.
func (s *Store) StoreTrainingExport(ctx context.Context, yearMonth, format string, data []byte) (string, error) {
	if yearMonth == "" {
		return "", errors.New("archive: year month required")
	}
	contentType, ok := contentTypes[format]
	if !ok {
		return "", fmt.Errorf("archive: unsupported export format %q", format)
	}

	key := fmt.Sprintf("revisions/%s/training.%s", yearMonth, format)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive: failed to store export: %w", err)
	}

	s.logger.Info("training export archived", "key", key, "bytes", len(data))
	return key, nil
}
