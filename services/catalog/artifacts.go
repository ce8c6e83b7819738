package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	gos3 "imaged/pkg/s3"
)

const artifactKeyPrefix = "system-images"

// ArtifactStore is the binary storage contract consumed by the write path.
// Store must place the bytes under a freshly generated collision-resistant
// key; Remove of a key that no longer exists is a no-op.
type ArtifactStore interface {
	Store(ctx context.Context, filename string, data []byte) (string, error)
	Remove(ctx context.Context, ref string) error
	URL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type s3Artifacts struct {
	client *gos3.Client
	bucket string
}

func newS3Artifacts(client *gos3.Client, bucket string) (*s3Artifacts, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("artifact bucket is required")
	}
	return &s3Artifacts{client: client, bucket: bucket}, nil
}

// artifactKey prefixes the uploaded filename with a random token so repeated
// uploads of same-named content never overwrite each other.
func artifactKey(filename string) string {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	name := path.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	return fmt.Sprintf("%s/%s_%s", artifactKeyPrefix, token, name)
}

func (s *s3Artifacts) Store(ctx context.Context, filename string, data []byte) (string, error) {
	key := artifactKey(filename)
	contentType := http.DetectContentType(data)
	if err := s.client.PutObject(ctx, s.bucket, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *s3Artifacts) Remove(ctx context.Context, ref string) error {
	return s.client.DeleteObject(ctx, s.bucket, ref)
}

func (s *s3Artifacts) URL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	return s.client.PresignGet(ctx, s.bucket, ref, ttl)
}
