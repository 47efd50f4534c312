// Package storage persists per-image result artifacts.
package storage

import (
	"context"
)

// ArtifactWriter persists one serialized result object under key.
type ArtifactWriter interface {
	// WriteArtifact serializes v to key, replacing any previous artifact
	WriteArtifact(ctx context.Context, key string, v any) error
}

// ArtifactReader provides read access to stored artifacts
type ArtifactReader interface {
	// ReadArtifact decodes the artifact at key into v
	ReadArtifact(ctx context.Context, key string, v any) error

	// Exists checks if an artifact exists at the given key
	Exists(ctx context.Context, key string) (bool, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size int64
}
