// Package storage addresses persona data (voice identity records, biographies,
// metadata) by hierarchical slash-separated paths such as "ada/profile.txt".
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by ReadBytes when nothing is stored at the path.
var ErrNotFound = errors.New("object not found")

// ObjectStore is implemented by every storage backend.
type ObjectStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	// List returns every object path starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ReadText reads the object at path as UTF-8 text.
func ReadText(ctx context.Context, store ObjectStore, path string) (string, error) {
	data, err := store.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// cleanPath normalises an object path and rejects traversal outside the store root.
func cleanPath(path string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return "", fmt.Errorf("invalid object path %q", path)
		}
	}
	return trimmed, nil
}
