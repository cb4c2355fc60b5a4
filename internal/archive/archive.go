// Package archive keeps a copy of every payload sent to the summarizer in an
// S3-compatible bucket, so a failed summary can be replayed by hand.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client putObjectAPI
	bucket string
	now    func() time.Time
}

type Options struct {
	Bucket    string
	Region    string
	Endpoint  string // empty means AWS
	AccessKey string
	SecretKey string
}

// loadConfig is a seam for tests.
var loadConfig = config.LoadDefaultConfig

func NewS3(ctx context.Context, o Options) (*S3, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}
	cfg, err := loadConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: o.Bucket, now: time.Now}, nil
}

// Key lays objects out by day: summaries/2025/01/31/<meeting>-<uuid>.json
func (a *S3) Key(meetingID string) string {
	return fmt.Sprintf("summaries/%s/%s-%s.json", a.now().UTC().Format("2006/01/02"), meetingID, uuid.NewString())
}

// Put stores body under a fresh key for meetingID and returns the key.
func (a *S3) Put(ctx context.Context, meetingID string, body []byte) (string, error) {
	key := a.Key(meetingID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}
