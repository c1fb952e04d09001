// Package s3 implements the Amazon S3 connector over aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registration describes the s3 connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "s3",
			DisplayName:    "Amazon S3",
			Description:    "CSV, Excel, PDF and image objects in an S3 bucket",
			Family:         connector.FamilyCloud,
			RequiredFields: []string{"bucket", "region"},
			Writable:       true,
		},
		Open: Open,
	}
}

// Store is an ObjectStore over one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// Open builds the client from static keys when present, otherwise from the
// default credential chain. endpoint and path_style support S3 compatible
// services.
func Open(ctx context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(connector.String(p.Details, "region")),
	}
	if key := connector.String(p.Details, "access_key"); key != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			key,
			connector.String(p.Details, "secret_key"),
			connector.String(p.Details, "session_token"),
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := connector.String(p.Details, "endpoint")
	pathStyle := connector.Bool(p.Details, "path_style", false)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return &connector.ObjectBackend{
		Store:  &Store{client: client, bucket: connector.String(p.Details, "bucket")},
		Prefix: connector.String(p.Details, "prefix"),
		Logger: logger,
	}, nil
}

// Ping checks the bucket exists and is accessible.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Get opens an object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, apperrors.NotFound("object", key)
		}
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", key, err)
}

// Put uploads body as key.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// List pages through objects under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]models.SourceEntry, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	var out []models.SourceEntry
	paginator := s3.NewListObjectsV2Paginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			out = append(out, models.SourceEntry{
				Name:      path.Base(key),
				Path:      key,
				SizeBytes: aws.ToInt64(obj.Size),
				Modified:  aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

var _ connector.ObjectStore = (*Store)(nil)
