package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/relabs-tech/tenantkit/core/logger"
)

// S3Configuration holds the configuration of the S3 driver
type S3Configuration struct {
	AccessID   string
	AccessKey  string
	Region     string
	BucketName string
	KeyPrefix  string
}

// S3 stores asset content in an AWS S3 bucket
type S3 struct {
	client      *s3.Client
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(ctx context.Context, c S3Configuration) (*S3, error) {
	if c.BucketName == "" {
		return nil, fmt.Errorf("bucket name must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessID, c.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("S3 asset storage enabled for bucket", c.BucketName)
	return &S3{client: s3.NewFromConfig(cfg), bucket: c.BucketName, baseKeyName: c.KeyPrefix}, nil
}

// Upload uploads data to the key object
func (s *S3) Upload(ctx context.Context, key, mime string, data []byte) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.baseKeyName + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.baseKeyName+key, err)
	}
	return nil
}

// Download downloads the key object
func (s *S3) Download(ctx context.Context, key string) ([]byte, error) {
	downloader := manager.NewDownloader(s.client)
	buffer := manager.NewWriteAtBuffer(nil)
	_, err := downloader.Download(ctx, buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Delete deletes the key object
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		logger.FromContext(ctx).Errorln("Could not delete", s.baseKeyName+key)
		return err
	}
	return nil
}
