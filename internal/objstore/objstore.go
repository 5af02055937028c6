// Package objstore archives gazette PDFs in an S3-compatible bucket.
// Archival is best-effort everywhere it is used: a missing copy degrades
// OCR to the source URL, it never fails the pipeline.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
)

const (
	contentTypePDF = "application/pdf"
	pdfKeyPrefix   = "pdfs/"
	defaultRegion  = "auto"
)

// Bucket wraps one S3-compatible bucket. R2 and MinIO work through the
// custom endpoint path.
type Bucket struct {
	client        *s3.Client
	name          string
	publicBaseURL string
}

// New builds the bucket client from configuration. Static credentials are
// used when provided; otherwise the SDK's default chain applies, which is
// what runs against real AWS.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Bucket{
		client:        client,
		name:          cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

// PDFKey returns the canonical object key for a gazette PDF URL.
func PDFKey(pdfURL string) string {
	return pdfKeyPrefix + urlx.Base64Key(pdfURL) + ".pdf"
}

// PutPDF uploads one PDF body under its canonical key and returns the key.
func (b *Bucket) PutPDF(ctx context.Context, pdfURL string, body []byte) (string, error) {
	key := PDFKey(pdfURL)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentTypePDF),
	})
	if err != nil {
		return "", fmt.Errorf("objstore: put %s: %w", key, err)
	}

	return key, nil
}

// PublicURL maps an object key to its public address, or "" when the
// bucket has no public base configured (local MinIO, tests). Callers fall
// back to the original source URL in that case.
func (b *Bucket) PublicURL(key string) string {
	if b.publicBaseURL == "" || key == "" {
		return ""
	}

	return b.publicBaseURL + "/" + key
}
