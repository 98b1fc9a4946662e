package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps artifacts under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

// Path resolves key inside the store directory.
func (l *LocalStore) Path(key string) (string, error) {
	p := filepath.Join(l.dir, filepath.FromSlash(key))
	if p != l.dir && !strings.HasPrefix(p, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return p, nil
}

// Save writes r to key, replacing any previous artifact.
func (l *LocalStore) Save(_ context.Context, key string, r io.Reader) (Object, error) {
	p, err := l.Path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return Object{}, fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	hr := newHashingReader(r)
	if _, err := io.Copy(tmp, hr); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return Object{}, fmt.Errorf("store artifact: %w", err)
	}
	return hr.object(key), nil
}

// Open returns the artifact's content.
func (l *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// Delete removes the artifact and its directory when empty. Deleting a
// missing artifact is not an error.
func (l *LocalStore) Delete(_ context.Context, key string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if dir := filepath.Dir(p); dir != l.dir {
		os.Remove(dir)
	}
	return nil
}
