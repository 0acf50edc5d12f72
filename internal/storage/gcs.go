package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	gcsapi "google.golang.org/api/storage/v1"
)

const gcsPublicHost = "https://storage.googleapis.com"

type GCS struct {
	bucketName string
	prefix     string
	service    *gcsapi.Service
}

// NewGCS connects with application default credentials and checks that the
// bucket is reachable.
func NewGCS(ctx context.Context, bucketName, prefix string) (*GCS, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &GCS{bucketName: trimmedBucket, prefix: strings.Trim(prefix, "/"), service: service}, nil
}

func (s *GCS) Backend() string {
	return "gcs"
}

func (s *GCS) objectName(objectPath string) string {
	if s.prefix == "" {
		return objectPath
	}
	return s.prefix + "/" + objectPath
}

func (s *GCS) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}

	trimmedType := strings.TrimSpace(contentType)
	if trimmedType == "" {
		trimmedType = "application/octet-stream"
	}

	object := &gcsapi.Object{
		Name:         s.objectName(cleanPath),
		ContentType:  trimmedType,
		CacheControl: "public, max-age=31536000",
	}

	if _, err := s.service.Objects.Insert(s.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

func (s *GCS) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil
	}

	err = s.service.Objects.Delete(s.bucketName, s.objectName(cleanPath)).Context(ctx).Do()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}

	return fmt.Errorf("delete gcs object %q: %w", cleanPath, err)
}

func (s *GCS) URL(objectPath string) string {
	return gcsPublicHost + "/" + s.bucketName + "/" + s.objectName(strings.Trim(objectPath, "/"))
}

func (s *GCS) ObjectPath(url string) (string, bool) {
	base := gcsPublicHost + "/" + s.bucketName + "/"
	if s.prefix != "" {
		base += s.prefix + "/"
	}
	rest, ok := strings.CutPrefix(url, base)
	if !ok {
		return "", false
	}
	cleaned, err := cleanObjectPath(rest)
	if err != nil {
		return "", false
	}
	return cleaned, true
}
