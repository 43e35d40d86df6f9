package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tmpPrefix = ".tmp-"

// DirStore implements Store with one file per key in a directory.
// Writes are atomic (temp file + rename), so a crash never leaves a
// half-written value behind.
type DirStore struct {
	dir string
}

var _ Store = (*DirStore)(nil)

// NewDirStore creates a DirStore rooted at dir, creating the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating settings dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *DirStore) Dir() string {
	return s.dir
}

func (s *DirStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (s *DirStore) Set(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *DirStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *DirStore) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		if key := unescape(e.Name()); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DirStore) Close() error {
	return nil
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.dir, escape(key))
}

var (
	escaper   = strings.NewReplacer("_", "_u_", "/", "_s_", "\\", "_b_", ":", "_c_")
	unescaper = strings.NewReplacer("_u_", "_", "_s_", "/", "_b_", "\\", "_c_", ":")
)

// escape maps a key to a file name; "_" is escaped too so the mapping is reversible.
func escape(key string) string {
	return escaper.Replace(key)
}

func unescape(name string) string {
	return unescaper.Replace(name)
}
