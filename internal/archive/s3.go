package archive

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"watchpot/internal/config"
)

// putObjectAPI is the part of the S3 client the uploader needs
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies captured photos to an S3 bucket
type S3Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
	log    logrus.FieldLogger
}

// NewS3Uploader creates an uploader for cfg using the default AWS credential
// chain. It returns nil when no bucket is configured.
func NewS3Uploader(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*S3Uploader, error) {
	if cfg.ArchiveBucket == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.ArchiveBucket,
		prefix: cfg.ArchivePrefix,
		log:    log,
	}, nil
}

// ObjectKey maps a photo path to <prefix><bucket-dir>/<file>
func ObjectKey(prefix, photoPath string) string {
	dir := filepath.Base(filepath.Dir(photoPath))
	return strings.TrimLeft(prefix, "/") + path.Join(dir, filepath.Base(photoPath))
}

// Upload streams the photo to S3 with its sha256 as object metadata
func (u *S3Uploader) Upload(ctx context.Context, photoPath string) error {
	key := ObjectKey(u.prefix, photoPath)
	logger := u.log.WithFields(logrus.Fields{
		"s3_bucket": u.bucket,
		"s3_key":    key,
	})

	checksum, size, err := fileChecksum(photoPath)
	if err != nil {
		return err
	}

	f, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("image/jpeg"),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		return fmt.Errorf("failed to upload photo: %w", err)
	}

	logger.WithField("sha256", checksum).Info("Photo archived")
	return nil
}

func fileChecksum(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash photo: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), n, nil
}
