// Package minio implements the MinIO connector over minio-go.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registration describes the minio connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "minio",
			DisplayName:    "MinIO",
			Description:    "Objects in a MinIO or other S3 compatible bucket",
			Family:         connector.FamilyCloud,
			RequiredFields: []string{"endpoint", "access_key", "secret_key", "bucket"},
			Writable:       true,
		},
		Open: Open,
		Validate: func(p connector.Params) error {
			_, _, err := Endpoint(p)
			return err
		},
	}
}

// Endpoint returns host:port for the client and whether TLS is implied by an
// https:// scheme. The port defaults to 9000.
func Endpoint(p connector.Params) (string, bool, error) {
	raw := strings.TrimSpace(connector.String(p.Details, "endpoint"))
	secure := connector.Bool(p.Details, "secure", false)
	switch {
	case strings.HasPrefix(raw, "https://"):
		raw, secure = strings.TrimPrefix(raw, "https://"), true
	case strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(raw, "http://")
	}
	raw = strings.TrimSuffix(raw, "/")
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		host, port = raw, "9000"
	}
	if host == "" || strings.Contains(host, "/") {
		return "", false, apperrors.NewValidationError("endpoint", "must be host or host:port")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", false, apperrors.NewValidationError("endpoint", "port must be between 1 and 65535")
	}
	return net.JoinHostPort(config.ResolveHostForDocker(host), port), secure, nil
}

// Store is an ObjectStore over one MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// Open builds the client. No request is made until first use.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	endpoint, secure, err := Endpoint(p)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(connector.String(p.Details, "access_key"), connector.String(p.Details, "secret_key"), ""),
		Secure: secure,
		Region: connector.String(p.Details, "region"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &connector.ObjectBackend{
		Store:  &Store{client: client, bucket: connector.String(p.Details, "bucket")},
		Prefix: connector.String(p.Details, "prefix"),
		Logger: logger,
	}, nil
}

// Ping checks the bucket exists.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return apperrors.NotFound("bucket", s.bucket)
	}
	return nil
}

// Get opens an object. GetObject is lazy, so Stat surfaces a missing key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, apperrors.NotFound("object", key)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, info.Size, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Put uploads body as key.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// List walks objects under prefix recursively.
func (s *Store) List(ctx context.Context, prefix string) ([]models.SourceEntry, error) {
	var out []models.SourceEntry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		out = append(out, models.SourceEntry{
			Name:      path.Base(obj.Key),
			Path:      obj.Key,
			SizeBytes: obj.Size,
			Modified:  obj.LastModified,
		})
	}
	return out, nil
}

var _ connector.ObjectStore = (*Store)(nil)
