// Package blob resolves uploaded object keys to readable files.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/settlr/internal/config"
	"go.uber.org/fx"
)

var (
	ErrObjectNotFound = errors.New("object_not_found")
	ErrInvalidKey     = errors.New("invalid_object_key")
)

// Store reads objects by key.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Writer stores objects by key.
type Writer interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// LocalStore maps object keys onto a directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return f, err
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// resolve rejects keys that would escape the root.
func (s *LocalStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// StagedName keeps the extension and slugs the rest, so non-ASCII export
// names stay readable on disk.
func StagedName(fileName string) string {
	base := filepath.Base(fileName)
	ext := strings.ToLower(filepath.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

// Stage copies key into dir and returns the local path.
func Stage(ctx context.Context, s Store, dir, key, fileName string) (string, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if fileName == "" {
		fileName = path.Base(key)
	}
	target := filepath.Join(dir, StagedName(fileName))
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", err
	}
	return target, f.Close()
}

var Module = fx.Module("blob",
	fx.Provide(
		func(cfg config.Config) *LocalStore { return NewLocalStore(cfg.Storage.UploadDir) },
		func(s *LocalStore) Store { return s },
		func(s *LocalStore) Writer { return s },
	),
)
