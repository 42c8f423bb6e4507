package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFSStorePutGetRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	payload := []byte(`{"id":"ps-118"}`)
	obj, err := store.Put(context.Background(), "ps-118/c01.json.gz", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != int64(len(payload)) || obj.Checksum == "" {
		t.Fatalf("object %+v", obj)
	}
	got, body, err := store.Get(context.Background(), "ps-118/c01.json.gz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer func() { _ = body.Close() }()
	read, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(read, payload) {
		t.Fatal("payload mismatch")
	}
	if got.Checksum != obj.Checksum {
		t.Fatalf("checksum changed: %q vs %q", got.Checksum, obj.Checksum)
	}
}

func TestFSStorePutIsCreateOnly(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "k", strings.NewReader("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(context.Background(), "k", strings.NewReader("b")); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("want ErrObjectExists, got %v", err)
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	for _, key := range []string{"", "/abs", "../escape", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}

func TestFSStoreHeadDeleteList(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	keys := []string{"ps-118/c01.json.gz", "ps-118/c02.json.gz", "ps-200/c01.json.gz"}
	for _, key := range keys {
		if _, err := store.Put(context.Background(), key, strings.NewReader(key)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	listed, err := store.List(context.Background(), "ps-118/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 || listed[0].Key != keys[0] || listed[1].Key != keys[1] {
		t.Fatalf("listed %+v", listed)
	}
	if _, err := store.Head(context.Background(), keys[0]); err != nil {
		t.Fatalf("Head: %v", err)
	}
	removed, err := store.Delete(context.Background(), keys[0])
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(context.Background(), keys[0])
	if err != nil || removed {
		t.Fatalf("second Delete: removed=%v err=%v", removed, err)
	}
	if _, err := store.Head(context.Background(), keys[0]); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("want ErrObjectNotFound, got %v", err)
	}
}
