package screenshot

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Uploader stores bytes in an object store.
type Uploader interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// S3Uploader implements Uploader on S3 or an S3 compatible service.
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader creates an uploader. A non-empty endpoint switches to path
// style addressing for S3 compatible services.
func NewS3Uploader(cfg aws.Config, endpoint string) *S3Uploader {
	return &S3Uploader{
		client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}),
	}
}

func (u *S3Uploader) UploadBytes(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// ArchiveCapturer keeps a copy of every capture in a bucket. Upload failures
// never fail the capture.
type ArchiveCapturer struct {
	next     Capturer
	uploader Uploader
	bucket   string
	prefix   string
	log      logrus.FieldLogger
}

// NewArchiveCapturer wraps next.
func NewArchiveCapturer(next Capturer, uploader Uploader, bucket, prefix string, logger logrus.FieldLogger) *ArchiveCapturer {
	return &ArchiveCapturer{
		next:     next,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		log:      logger.WithField("component", "archive"),
	}
}

func (a *ArchiveCapturer) CapturePage(ctx context.Context, url string) ([]byte, error) {
	img, err := a.next.CapturePage(ctx, url)
	if err != nil {
		return nil, err
	}
	key := ArchiveKey(a.prefix, url)
	log := a.log.WithFields(logrus.Fields{"url": url, "key": key})
	location, err := a.uploader.UploadBytes(ctx, a.bucket, key, img, "image/png")
	if err != nil {
		log.WithError(err).Warn("Failed to archive screenshot")
		return img, nil
	}
	log.WithField("location", location).Debug("Screenshot archived")
	return img, nil
}

// ArchiveKey derives a stable object key from the post url.
func ArchiveKey(prefix, url string) string {
	sum := sha1.Sum([]byte(url))
	return path.Join(prefix, hex.EncodeToString(sum[:])+".png")
}
