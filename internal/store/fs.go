package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	appLog "calsync/internal/log"
)

const (
	metaSuffix = ".meta"
	tmpPrefix  = ".calsync-"
)

// FS stores documents as files under a root directory. Writes go through a
// temp file and rename so readers never see a partial document. The content
// type is kept in a sidecar file next to each document.
type FS struct {
	root string
	fs   billy.Filesystem
}

// NewFS returns a store rooted at dir. The directory is created on first
// write.
func NewFS(dir string) *FS {
	return &FS{root: dir, fs: osfs.New(dir)}
}

// Root returns the store directory.
func (s *FS) Root() string { return s.root }

func (s *FS) pathFor(op, key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if key == "" || clean != key || strings.HasSuffix(key, metaSuffix) {
		return "", &StorageError{Op: op, Key: key, Err: errors.New("invalid key")}
	}
	return filepath.FromSlash(key), nil
}

func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.pathFor("get", key)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

func (s *FS) ContentType(ctx context.Context, key string) (string, error) {
	p, err := s.pathFor("stat", key)
	if err != nil {
		return "", err
	}
	data, err := util.ReadFile(s.fs, p+metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &StorageError{Op: "stat", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return "", &StorageError{Op: "stat", Key: key, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathFor("put", key)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(p, data); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if contentType != "" {
		if err := s.writeAtomic(p+metaSuffix, []byte(contentType+"\n")); err != nil {
			return &StorageError{Op: "put", Key: key, Err: err}
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place.
func (s *FS) writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := s.fs.TempFile(dir, tmpPrefix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer s.fs.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if f, ok := tmp.(interface{ Sync() error }); ok {
		if err := f.Sync(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if ch, ok := s.fs.(billy.Change); ok {
		if err := ch.Chmod(tmpName, 0o644); err != nil {
			return err
		}
	}
	return s.fs.Rename(tmpName, target)
}

func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := util.Walk(s.fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == "." {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tmpPrefix) {
			return nil
		}
		key := filepath.ToSlash(filepath.Clean(p))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Key: prefix, Err: err}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FS) DeleteBatch(ctx context.Context, keys []string) (DeleteResult, error) {
	var res DeleteResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	for _, key := range keys {
		p, err := s.pathFor("delete", key)
		if err != nil {
			res.Errors = append(res.Errors, DeleteError{Key: key, Err: err})
			continue
		}
		// Removing a missing key counts as deleted, like an object store.
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Errors = append(res.Errors, DeleteError{Key: key, Err: err})
			continue
		}
		if err := s.fs.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("store: sidecar not removed", "key", key, "error", err)
		}
		res.Deleted = append(res.Deleted, key)
	}
	return res, nil
}
