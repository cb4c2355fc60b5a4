package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePut struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestPut(t *testing.T) {
	f := &fakePut{}
	a := &S3{client: f, bucket: "archive", now: func() time.Time {
		return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
	}}

	key, err := a.Put(context.Background(), "m1", []byte(`{"meetingId":"m1"}`))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "summaries/2025/03/07/m1-"), key)
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.Equal(t, "archive", aws.ToString(f.in.Bucket))
	assert.Equal(t, key, aws.ToString(f.in.Key))
	assert.Equal(t, "application/json", aws.ToString(f.in.ContentType))
	assert.Equal(t, `{"meetingId":"m1"}`, f.body)
}

func TestPutError(t *testing.T) {
	a := &S3{client: &fakePut{err: errors.New("denied")}, bucket: "b", now: time.Now}
	_, err := a.Put(context.Background(), "m1", nil)
	assert.ErrorContains(t, err, "denied")
}

func TestNewS3ConfigError(t *testing.T) {
	orig := loadConfig
	t.Cleanup(func() { loadConfig = orig })
	loadConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}

	_, err := NewS3(context.Background(), Options{Bucket: "b", Region: "us-east-1"})
	assert.ErrorContains(t, err, "no creds")
}

func TestNewS3(t *testing.T) {
	a, err := NewS3(context.Background(), Options{
		Bucket: "b", Region: "us-east-1", Endpoint: "http://localhost:9000",
		AccessKey: "minio", SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "b", a.bucket)
	assert.NotNil(t, a.client)
}
