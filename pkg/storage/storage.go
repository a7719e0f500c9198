// Package storage holds sealed mammogram bytes in Azure Blob Storage, an
// S3-compatible store (MinIO), a local directory, or process memory.
// Blob contents are opaque here; sealing happens before Upload.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/lifecycle"
)

// System is a flat key/blob store. Keys are relative slash-separated paths
// such as "patients/<id>/images/<id>.bin".
type System interface {
	// Start prepares the container and registers a "storage" readiness
	// check where the provider has one.
	Start(lc *lifecycle.Coordinator) error
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	// Download returns ErrNotFound for a missing key. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete returns ErrNotFound for a missing key.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the client for cfg.Provider without touching the network;
// containers and buckets are created in Start.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	logger = logger.With("system", "storage", "provider", string(cfg.Provider))

	switch cfg.Provider {
	case ProviderAzure:
		return newAzure(cfg, logger)
	case ProviderMinio:
		return newMinio(cfg, logger)
	case ProviderFilesystem:
		return newFilesystem(cfg, logger), nil
	case ProviderMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
