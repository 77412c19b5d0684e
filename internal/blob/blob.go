// Package blob stores report artefacts by relative key.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid blob key")

// Store is the object-store boundary used by the report composer and the
// HTTP API.
type Store interface {
	Put(key string, r io.Reader) (string, error)
	Open(key string) (io.ReadCloser, error)
	Exists(key string) bool
}

// LocalFS keeps blobs as files under Root.
type LocalFS struct {
	Root string
}

var _ Store = LocalFS{}

func (l LocalFS) resolve(key string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.ToSlash(clean), filepath.Join(l.Root, clean), nil
}

// Put writes r to key, creating parent directories, and returns the
// normalised key.
func (l LocalFS) Put(key string, r io.Reader) (string, error) {
	clean, abs, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, nil
}

func (l LocalFS) Open(key string) (io.ReadCloser, error) {
	_, abs, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(key string) bool {
	_, abs, err := l.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}
