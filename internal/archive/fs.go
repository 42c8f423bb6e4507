package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FSStore keeps snapshots as files under a root directory. Each object has
// a JSON sidecar (key + ".meta") carrying its checksum and size; writes
// stream through a temp file and rename into place.
type FSStore struct {
	root string
}

var _ Store = (*FSStore)(nil)

// NewFSStore returns a filesystem store rooted at root, creating it if
// needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "./archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Driver() Driver { return DriverFS }

// cleanKey rejects keys that would escape the root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return clean, nil
}

func (s *FSStore) paths(key string) (data, meta string, err error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	data = filepath.Join(s.root, k)
	return data, data + ".meta", nil
}

type sidecar struct {
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Object{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Object{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".snap-*")
	if err != nil {
		return Object{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return Object{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Object{}, err
	}
	if err := tmp.Close(); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Object{}, err
	}
	now := time.Now().UTC()
	checksum := hex.EncodeToString(h.Sum(nil))
	raw, err := json.MarshalIndent(sidecar{Checksum: checksum, Size: size, StoredAt: now}, "", "  ")
	if err != nil {
		return Object{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return Object{}, err
	}
	return Object{Key: key, Size: size, Checksum: checksum, StoredAt: now}, nil
}

func (s *FSStore) readSidecar(metaPath string) (sidecar, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}

func (s *FSStore) Get(ctx context.Context, key string) (Object, io.ReadCloser, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Object{}, nil, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return Object{}, nil, err
	}
	sc, err := s.readSidecar(metaPath)
	if err != nil {
		_ = file.Close()
		return Object{}, nil, err
	}
	return Object{Key: key, Size: sc.Size, Checksum: sc.Checksum, StoredAt: sc.StoredAt}, file, nil
}

func (s *FSStore) Head(ctx context.Context, key string) (Object, error) {
	_, metaPath, err := s.paths(key)
	if err != nil {
		return Object{}, err
	}
	sc, err := s.readSidecar(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, Size: sc.Size, Checksum: sc.Checksum, StoredAt: sc.StoredAt}, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		sc, err := s.readSidecar(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Size: sc.Size, Checksum: sc.Checksum, StoredAt: sc.StoredAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL returns a pseudo URL for local development; there is no auth
// to sign against.
func (s *FSStore) PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "http", Host: "local.archive", Path: "/" + key}).String(), nil
}
