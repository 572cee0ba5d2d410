// Package storage persists the two documents the service owns: the
// subscriber store and the per-weekday scrape state. Both are whole-document
// read-modify-write JSON files, kept either on the local filesystem or in a
// Cloud Storage bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// ErrNotExist reports that a document has never been written. Callers treat
// it as an empty document, not a failure.
var ErrNotExist = errors.New("storage: document does not exist")

// Documents reads and writes whole JSON documents by key.
type Documents struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// NewDocuments creates a document store. With a non-empty localPath documents
// live as files under that directory; otherwise they are objects in bucket.
func NewDocuments(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Documents {
	return &Documents{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Read returns the raw document for key, or ErrNotExist.
func (d *Documents) Read(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if d.localPath != "" {
		data, err := os.ReadFile(filepath.Join(d.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := d.client.Bucket(d.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotExist)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					d.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			d.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Write atomically replaces the document for key. Local writes go through a
// temp file and rename so a crash never leaves a truncated document.
func (d *Documents) Write(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if d.localPath != "" {
		target := filepath.Join(d.localPath, key)
		tmp, err := os.CreateTemp(d.localPath, key+".tmp-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmp.Name(), target); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("rename temp file: %w", err)
		}
		return nil
	}

	// Cloud Storage writes an object as a unit, so atomicity comes for free.
	err := retry.Do(
		func() error {
			w := d.client.Bucket(d.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					d.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			d.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}
