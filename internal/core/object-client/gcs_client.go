package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/logger"
)

var _ core.ObjectClient = (*GCSClient)(nil)

// GCSClient is the Google Cloud Storage backend. Credentials come from the
// environment (ADC); STORAGE_EMULATOR_HOST switches to an unauthenticated
// emulator.
type GCSClient struct {
	client *storage.Client
	bucket string
	log    *logger.Logger
}

func NewGCSClient(ctx context.Context, bucket string, log *logger.Logger, opts ...option.ClientOption) (*GCSClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS bucket name not set")
	}
	if len(opts) == 0 {
		if os.Getenv("STORAGE_EMULATOR_HOST") != "" {
			opts = append(opts, option.WithoutAuthentication())
		} else {
			opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		}
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log = log.With("service", "GCSClient", "bucket", bucket)
	log.Info("GCS client ready")
	return &GCSClient{client: client, bucket: bucket, log: log}, nil
}

func (g *GCSClient) Close() error {
	return g.client.Close()
}

func (g *GCSClient) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close writer %s: %w", key, err)
	}
	g.log.Debug("uploaded object", "key", key, "bytes", len(data))

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
}

// DeleteFile treats a missing object as already deleted.
func (g *GCSClient) DeleteFile(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}

func (g *GCSClient) GetFile(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs object %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("gcs open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return data, nil
}
