// Package storage persists uploaded and generated images, either on local
// disk or in a Google Cloud Storage bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"kirakira/backend/internal/config"
)

// ObjectStore stores blobs under slash-separated object paths such as
// "avatars/avatar_<id>_<ms>.png".
type ObjectStore interface {
	Backend() string
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
	DeleteObject(ctx context.Context, objectPath string) error
	// URL is the public URL of an object.
	URL(objectPath string) string
	// ObjectPath reverses URL; ok is false for URLs this store did not issue.
	ObjectPath(url string) (string, bool)
}

var objectSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// New picks GCS when a bucket is configured and the local upload dir otherwise.
func New(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	if cfg.UsesGCS() {
		return NewGCS(ctx, cfg.GCSBucket, cfg.GCSUploadPrefix)
	}
	return NewLocal(cfg.UploadDir, LocalURLPrefix)
}

func cleanObjectPath(objectPath string) (string, error) {
	cleaned := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleaned == "" {
		return "", errors.New("object path is required")
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "." || segment == ".." || !objectSegment.MatchString(segment) {
			return "", fmt.Errorf("invalid object path %q", objectPath)
		}
	}
	return cleaned, nil
}

// LocalURLPrefix is where the router serves the local upload directory.
const LocalURLPrefix = "/uploads"

type Local struct {
	root      string
	urlPrefix string
}

func NewLocal(root, urlPrefix string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *Local) Backend() string {
	return "local"
}

func (s *Local) Root() string {
	return s.root
}

func (s *Local) PutObject(_ context.Context, objectPath, _ string, data []byte) error {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write object %q: %w", cleaned, err)
	}
	return nil
}

func (s *Local) DeleteObject(_ context.Context, objectPath string) error {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %q: %w", cleaned, err)
	}
	return nil
}

func (s *Local) URL(objectPath string) string {
	return s.urlPrefix + "/" + strings.Trim(objectPath, "/")
}

func (s *Local) ObjectPath(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok {
		return "", false
	}
	cleaned, err := cleanObjectPath(path.Clean(rest))
	if err != nil {
		return "", false
	}
	return cleaned, true
}
