// Package offsite mirrors created snapshots to an S3 bucket.
package offsite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"filippo.io/age"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ankibak-go/internal/backup"
	"ankibak-go/internal/config"
)

// S3Replicator uploads snapshot files to a bucket after each created
// backup. When an age recipient is configured the collection payload is
// encrypted in transit; the local tree always keeps the raw file.
type S3Replicator struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	recipient age.Recipient
	logger    backup.Logger
}

var _ backup.Replicator = (*S3Replicator)(nil)

// NewFromConfig returns a replicator when offsite replication is
// configured, nil otherwise.
func NewFromConfig(ctx context.Context, cfg config.OffsiteConfig, logger backup.Logger) (backup.Replicator, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	return NewS3Replicator(ctx, cfg, logger)
}

// NewS3Replicator builds the S3 client and verifies bucket access.
func NewS3Replicator(ctx context.Context, cfg config.OffsiteConfig, logger backup.Logger) (*S3Replicator, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite bucket is not configured")
	}
	if logger == nil {
		logger = backup.NewNopLogger()
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	// Custom endpoints (MinIO and friends) usually come with plain
	// access keys rather than a full credential chain.
	if cfg.Endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				awsCfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	var recipient age.Recipient
	if cfg.AgeRecipient != "" {
		recipient, err = age.ParseX25519Recipient(cfg.AgeRecipient)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient: %w", err)
		}
	}

	r := &S3Replicator{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		recipient: recipient,
		logger:    logger,
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("verifying bucket access: %w", err)
	}

	logger.Info("offsite replication enabled",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"encrypted", recipient != nil)
	return r, nil
}

// Replicate uploads the snapshot's collection and metadata files. The
// entry's content hash travels along as object metadata so remote copies
// can be verified without downloading them.
func (r *S3Replicator) Replicate(ctx context.Context, entry *backup.Entry, collectionPath string) error {
	if entry.TimestampDir == "" {
		return fmt.Errorf("backup %s has no snapshot directory", entry.ID)
	}

	collection, err := os.ReadFile(collectionPath)
	if err != nil {
		return fmt.Errorf("reading collection: %w", err)
	}

	key := r.objectKey(entry.TimestampDir, "collection.anki2")
	if r.recipient != nil {
		if collection, err = r.encrypt(bytes.NewReader(collection)); err != nil {
			return fmt.Errorf("encrypting collection: %w", err)
		}
		key += ".age"
	}

	if _, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(r.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(collection),
		Metadata: map[string]string{"blake3": entry.ContentHash},
	}); err != nil {
		return fmt.Errorf("uploading collection: %w", err)
	}

	metadata, err := os.ReadFile(filepath.Join(filepath.Dir(collectionPath), "metadata.json"))
	if err != nil {
		return fmt.Errorf("reading snapshot metadata: %w", err)
	}
	metadataKey := r.objectKey(entry.TimestampDir, "metadata.json")
	if _, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(metadataKey),
		Body:   bytes.NewReader(metadata),
	}); err != nil {
		return fmt.Errorf("uploading snapshot metadata: %w", err)
	}

	r.logger.Info("replicated snapshot",
		"backup_id", entry.ID,
		"bucket", r.bucket,
		"key", key)
	return nil
}

func (r *S3Replicator) objectKey(timestampDir, name string) string {
	return path.Join(r.prefix, timestampDir, name)
}

// encrypt reads plaintext from src and returns age ciphertext for the
// configured recipient.
func (r *S3Replicator) encrypt(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}
