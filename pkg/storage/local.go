package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/errors"
)

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "local stage directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "resolve local stage directory")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "create local stage directory")
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

// Put writes body to root/key.
func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ map[string]string) (string, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeUpload, "create stage directory").WithDetail("key", key)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeUpload, "write stage part").WithDetail("key", key)
	}
	return s.URL(key), nil
}

// Delete removes root/key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeUpload, "delete stage part").WithDetail("key", key)
	}
	return nil
}

// Open reads root/key.
func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "open stage part").WithDetail("key", key)
	}
	return f, nil
}

// URL returns the file:// address of key.
func (s *LocalStore) URL(key string) string {
	return "file://" + filepath.ToSlash(s.path(key))
}

// Check verifies the root directory is writable.
func (s *LocalStore) Check(_ context.Context) error {
	f, err := os.CreateTemp(s.root, ".check-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "local stage directory is not writable")
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Root returns the directory objects are stored under.
func (s *LocalStore) Root() string {
	return s.root
}
