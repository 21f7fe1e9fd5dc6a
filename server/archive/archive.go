// Package archive copies decided match transcripts to S3-compatible object
// storage (Cloudflare R2 by default).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	AccountID string // R2 account; ignored when Endpoint is set
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Enabled reports whether enough is configured to build an archiver.
func (c Config) Enabled() bool {
	return c.Bucket != "" && (c.AccountID != "" || c.Endpoint != "")
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client putter
	bucket string
	prefix string
}

func New(ctx context.Context, c Config) (*S3, error) {
	if !c.Enabled() {
		return nil, errors.New("archive: bucket and endpoint required")
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey, c.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(c.endpoint())
		o.UsePathStyle = true
	})
	return &S3{client: client, bucket: c.Bucket, prefix: prefixOrDefault(c.Prefix)}, nil
}

func prefixOrDefault(p string) string {
	if p == "" {
		return "matches/"
	}
	return p
}

// Key returns the object key for a match.
func (a *S3) Key(matchID string) string {
	return a.prefix + matchID + ".json"
}

// Archive writes transcript as JSON, replacing any previous copy.
func (a *S3) Archive(ctx context.Context, matchID string, transcript any) error {
	body, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(matchID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", a.Key(matchID), err)
	}
	return nil
}
