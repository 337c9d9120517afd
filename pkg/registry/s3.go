package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of S3 operations the registry uses. It allows
// injecting a mock client in tests.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config configures the S3-backed registry.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional, for S3-compatible storage
	Prefix   string
}

// S3Registry stores one JSON object per subscription:
//
//	{prefix}subscriptions/{endpoint-hash}.json
//
// The endpoint hash is the first 16 hex chars of SHA-256 of the endpoint
// URL, keeping keys short and free of URL characters.
type S3Registry struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Registry creates an S3-backed registry from configuration.
func NewS3Registry(ctx context.Context, cfg S3Config) (*S3Registry, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for S3-compatible endpoints
		})
	}

	return newS3RegistryWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func newS3RegistryWithClient(client S3Client, bucket, prefix string) *S3Registry {
	if prefix == "" {
		prefix = "push-relay/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Registry{client: client, bucket: bucket, prefix: prefix}
}

func (r *S3Registry) objectKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return fmt.Sprintf("%ssubscriptions/%s.json", r.prefix, hex.EncodeToString(sum[:])[:16])
}

func (r *S3Registry) Upsert(ctx context.Context, sub *Subscription) error {
	existing, err := r.Get(ctx, sub.Endpoint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		if sub.ID == "" {
			sub.ID = newSubscriptionID()
		}
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now()
		}
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.objectKey(sub.Endpoint)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put subscription object: %w", err)
	}
	return nil
}

func (r *S3Registry) Get(ctx context.Context, endpoint string) (*Subscription, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(endpoint)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription object: %w", err)
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription object: %w", err)
	}
	return &sub, nil
}

func (r *S3Registry) List(ctx context.Context) ([]*Subscription, error) {
	var subs []*Subscription
	prefix := r.prefix + "subscriptions/"

	var continuation *string
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list subscription objects: %w", err)
		}
		for _, obj := range out.Contents {
			got, err := r.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				continue // Object deleted between list and get
			}
			data, err := io.ReadAll(got.Body)
			_ = got.Body.Close()
			if err != nil {
				continue
			}
			var sub Subscription
			if err := json.Unmarshal(data, &sub); err != nil {
				continue
			}
			subs = append(subs, &sub)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}
	return subs, nil
}

func (r *S3Registry) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Subscription
	for _, sub := range all {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *S3Registry) Delete(ctx context.Context, endpoint string) error {
	// DeleteObject is idempotent in S3, so check existence first to keep
	// the ErrNotFound contract.
	if _, err := r.Get(ctx, endpoint); err != nil {
		return err
	}
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(endpoint)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete subscription object: %w", err)
	}
	return nil
}

func (r *S3Registry) Close() error {
	return nil
}
