// Package storage persists local audio artifacts to S3-compatible object
// storage (Cloudflare R2 in the reference deployment) and returns public
// URLs for them.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader is the object-storage capability consumed by the delivery worker.
type Uploader interface {
	// UploadFile stores one local file under key and returns its public URL.
	UploadFile(ctx context.Context, filePath, key string, metadata map[string]string) (string, error)

	// UploadFiles stores several files under an optional key prefix and
	// returns a key→URL mapping for the ones that succeeded. An error is
	// returned only when every upload failed.
	UploadFiles(ctx context.Context, filePaths []string, prefix string) (map[string]string, error)
}

// Config holds the S3-compatible endpoint settings.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// PublicURL is the public base under which uploaded objects are served,
	// e.g. "https://cdn.example.com". When empty, UploadFile returns the
	// bare object key.
	PublicURL string
}

// R2Uploader implements Uploader against an S3-compatible API.
type R2Uploader struct {
	client    *s3.Client
	bucket    string
	publicURL string
	log       zerolog.Logger
}

// New creates an R2Uploader. R2 requires SigV4 signing and uses "auto" as
// its region.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*R2Uploader, error) {
	if cfg.Bucket == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage config missing bucket or endpoint")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &R2Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       log,
	}, nil
}

func (u *R2Uploader) UploadFile(ctx context.Context, filePath, key string, metadata map[string]string) (string, error) {
	if key == "" {
		key = filepath.Base(filePath)
	}
	key = strings.TrimLeft(key, "/")

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := ContentTypeFor(filePath); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, u.bucket, err)
	}

	url := ObjectURL(u.publicURL, key)
	u.log.Info().Str("key", key).Str("url", url).Msg("Artifact uploaded")
	return url, nil
}

func (u *R2Uploader) UploadFiles(ctx context.Context, filePaths []string, prefix string) (map[string]string, error) {
	prefix = strings.Trim(prefix, "/")

	urls := make(map[string]string, len(filePaths))
	var lastErr error
	for _, p := range filePaths {
		key := filepath.Base(p)
		if prefix != "" {
			key = prefix + "/" + key
		}
		url, err := u.UploadFile(ctx, p, key, nil)
		if err != nil {
			u.log.Error().Str("path", p).Err(err).Msg("Batch upload item failed")
			lastErr = err
			continue
		}
		urls[key] = url
	}

	if len(urls) == 0 && lastErr != nil {
		return nil, fmt.Errorf("batch upload: all %d files failed: %w", len(filePaths), lastErr)
	}
	return urls, nil
}

// ObjectURL joins the public base URL and an object key. With no base the
// key itself is returned.
func ObjectURL(publicURL, key string) string {
	key = strings.TrimLeft(key, "/")
	if publicURL == "" {
		return key
	}
	return strings.TrimRight(publicURL, "/") + "/" + key
}

// ContentTypeFor maps an artifact file extension to its MIME type. Unknown
// extensions return "" and the storage backend applies its default.
func ContentTypeFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".json":
		return "application/json"
	default:
		return ""
	}
}
