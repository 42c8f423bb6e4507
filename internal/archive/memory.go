package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	payload []byte
	info    Object
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Driver() Driver { return DriverMemory }

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	sum := sha256.Sum256(payload)
	info := Object{
		Key:      key,
		Size:     int64(len(payload)),
		Checksum: hex.EncodeToString(sum[:]),
		StoredAt: time.Now().UTC(),
	}
	s.objects[key] = memoryObject{payload: payload, info: info}
	return info, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Object, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.payload)), nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return obj.info, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Object
	for key, obj := range s.objects {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.Head(ctx, key); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "http", Host: "memory.archive", Path: "/" + key}).String(), nil
}
