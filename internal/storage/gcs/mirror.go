// Package gcs mirrors checkpoint logs to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Mirror uploads checkpoint copies to a bucket.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Save uploads data as prefix/objectName in a single request.
func (m *Mirror) Save(ctx context.Context, objectName string, data []byte) error {
	if strings.TrimSpace(objectName) == "" {
		return fmt.Errorf("object name is required")
	}
	name := m.ObjectName(objectName)
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "text/csv"
	writer.ChunkSize = 0
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", m.bucket, name, err)
	}
	return nil
}

// ObjectName joins the configured prefix and objectName.
func (m *Mirror) ObjectName(objectName string) string {
	if m.prefix == "" {
		return objectName
	}
	return path.Join(m.prefix, objectName)
}

// URI returns the gs:// location of objectName.
func (m *Mirror) URI(objectName string) string {
	return fmt.Sprintf("gs://%s/%s", m.bucket, m.ObjectName(objectName))
}
