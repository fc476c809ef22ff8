package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReferenceSource yields the hospital reference document embedded in every
// system prompt. It is read on each turn so edits take effect without a restart.
type ReferenceSource interface {
	LoadReference(ctx context.Context) (string, error)
}

// FileReference reads the document from the local filesystem.
type FileReference struct {
	Path string
}

func (f FileReference) LoadReference(_ context.Context) (string, error) {
	if strings.TrimSpace(f.Path) == "" {
		return "", errors.New("conversation: reference path is empty")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("conversation: read reference %s: %w", f.Path, err)
	}
	return string(data), nil
}

type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reference reads the document from an S3 object.
type S3Reference struct {
	api    s3GetObjectAPI
	bucket string
	key    string
}

func NewS3Reference(api s3GetObjectAPI, bucket, key string) *S3Reference {
	if api == nil {
		panic("conversation: s3 client cannot be nil")
	}
	return &S3Reference{api: api, bucket: bucket, key: key}
}

func (r *S3Reference) LoadReference(ctx context.Context) (string, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return "", fmt.Errorf("conversation: get reference s3://%s/%s: %w", r.bucket, r.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("conversation: read reference body: %w", err)
	}
	return string(data), nil
}

// ParseS3URI splits s3://bucket/key. ok is false for anything else.
func ParseS3URI(raw string) (bucket, key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}
