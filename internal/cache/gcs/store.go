// Package gcs stores cached responses as objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/favicon-edge/internal/cache"
)

// Namer maps cache keys to object names.
type Namer interface {
	ObjectName(prefix, key string) string
}

// Objects is the slice of the GCS API the store needs.
type Objects interface {
	NewReader(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, bucket, name, contentType string) io.WriteCloser
}

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Prefix string
}

// Store implements cache.Store on a GCS bucket.
type Store struct {
	objects Objects
	bucket  string
	prefix  string
	namer   Namer
}

// New creates a GCS-backed store from a storage client.
func New(client *storage.Client, cfg Config, namer Namer) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return NewWithObjects(ClientObjects{Client: client}, cfg, namer)
}

// NewWithObjects creates a store over any Objects implementation.
func NewWithObjects(objects Objects, cfg Config, namer Namer) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("objects client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if namer == nil {
		return nil, fmt.Errorf("namer is required")
	}
	return &Store{objects: objects, bucket: cfg.Bucket, prefix: cfg.Prefix, namer: namer}, nil
}

// Match downloads and decodes the object for key.
func (s *Store) Match(ctx context.Context, key string) (cache.Entry, error) {
	name := s.namer.ObjectName(s.prefix, key)
	reader, err := s.objects.NewReader(ctx, s.bucket, name)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return cache.Entry{}, cache.ErrMiss
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("open gs://%s/%s: %w", s.bucket, name, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read gs://%s/%s: %w", s.bucket, name, err)
	}
	return cache.Decode(data)
}

// Put uploads the encoded entry.
func (s *Store) Put(ctx context.Context, key string, entry cache.Entry) error {
	data, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	name := s.namer.ObjectName(s.prefix, key)
	writer := s.objects.NewWriter(ctx, s.bucket, name, "application/json")
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ClientObjects adapts *storage.Client to Objects.
type ClientObjects struct {
	Client *storage.Client
}

// NewReader opens an object for reading.
func (c ClientObjects) NewReader(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	r, err := c.Client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	return r, nil
}

// NewWriter opens an object for writing; the upload commits on Close.
func (c ClientObjects) NewWriter(ctx context.Context, bucket, name, contentType string) io.WriteCloser {
	w := c.Client.Bucket(bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}
