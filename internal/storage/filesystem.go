package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrPathTraversal is returned for a key that escapes the base directory.
var ErrPathTraversal = errors.New("invalid key: path traversal detected")

// FilesystemStorage stores artifacts as JSON files. With an empty base
// directory keys are used as plain file paths.
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a filesystem artifact store rooted at baseDir
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &FilesystemStorage{baseDir: baseDir}, nil
}

func (fs *FilesystemStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("invalid key: empty")
	}
	if fs.baseDir == "" {
		return filepath.Clean(key), nil
	}
	base := filepath.Clean(fs.baseDir)
	path := filepath.Join(base, key)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return path, nil
}

// WriteArtifact implements ArtifactWriter. The file is written to a
// temporary name and renamed so readers never see a partial artifact.
func (fs *FilesystemStorage) WriteArtifact(ctx context.Context, key string, v any) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// ReadArtifact implements ArtifactReader.
func (fs *FilesystemStorage) ReadArtifact(ctx context.Context, key string, v any) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifact not found: %s", key)
		}
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", key, err)
	}
	return nil
}

// Exists checks if an artifact exists at the given key
func (fs *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return true, nil
}

// GetMetadata returns metadata for the artifact at the given key
func (fs *FilesystemStorage) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s", key)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &Metadata{Size: info.Size()}, nil
}
