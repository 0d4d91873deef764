package datapack

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/storage"
	appErr "classjudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
	bucket  bool
}

func (f *fakeStorage) GetObject(_ context.Context, _, key string) (storage.ObjectReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, appErr.Wrap(fmt.Errorf("no such key %s", key), appErr.NotFound)
	}
	f.gets++
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(_ context.Context, _, key string) (storage.ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("no such key %s", key)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func (f *fakeStorage) BucketExists(context.Context, string) (bool, error) {
	return f.bucket, nil
}

func (f *fakeStorage) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func buildPack(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type fixture struct {
	cache *Cache
	store *fakeStorage
	mr    *miniredis.Miniredis
	root  string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if cfg.RootDir == "" {
		cfg.RootDir = t.TempDir()
	}
	cfg.Bucket = "judge-data"
	cfg.KeyPrefix = "packs/"
	store := &fakeStorage{objects: map[string][]byte{}, bucket: true}
	c, err := NewCache(cfg, store, rc)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{cache: c, store: store, mr: mr, root: c.dir}
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			t.Fatalf("staging dir %s left behind", e.Name())
		}
	}
}

func (f *fixture) put(id string, data []byte) {
	f.store.objects["packs/"+id+packSuffix] = data
}

func TestAcquireExtractsAndReuses(t *testing.T) {
	f := newFixture(t, Config{})
	archive := buildPack(t, map[string]string{
		"1.out":       "hello\n",
		"cases/2.in":  "1 2\n",
		"cases/2.out": "3\n",
	})
	f.put("lab1", archive)
	ctx := context.Background()

	dir, release, err := f.cache.Acquire(ctx, Pack{ID: "lab1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if dir != filepath.Join(f.root, "lab1") {
		t.Fatalf("dir = %q", dir)
	}
	got, err := os.ReadFile(filepath.Join(dir, "cases", "2.out"))
	if err != nil || string(got) != "3\n" {
		t.Fatalf("extracted file = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, tempFileName)); !os.IsNotExist(err) {
		t.Fatalf("temp archive should be removed")
	}
	if f.mr.Exists(lockKeyPrefix + "lab1") {
		t.Fatalf("download lock should be released")
	}
	release()
	release()

	if _, release2, err := f.cache.Acquire(ctx, Pack{ID: "lab1", SHA256: sum(archive)}); err != nil {
		t.Fatalf("second acquire: %v", err)
	} else {
		release2()
	}
	if f.store.getCount() != 1 {
		t.Fatalf("expected a single download, got %d", f.store.getCount())
	}
}

func TestInstancesSharingRootKeepSeparateCopies(t *testing.T) {
	root := t.TempDir()
	first := newFixture(t, Config{RootDir: root})
	first.put("lab1", buildPack(t, map[string]string{"1.out": "v1"}))
	dirFirst, releaseFirst, err := first.cache.Acquire(context.Background(), Pack{ID: "lab1"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer releaseFirst()

	second := newFixture(t, Config{RootDir: root, MaxEntries: 1})
	v2 := buildPack(t, map[string]string{"1.out": "v2"})
	second.put("lab1", v2)
	second.put("other", buildPack(t, map[string]string{"1.out": "o"}))
	ctx := context.Background()
	dirSecond, release, err := second.cache.Acquire(ctx, Pack{ID: "lab1", SHA256: sum(v2)})
	if err != nil {
		t.Fatalf("acquire new version: %v", err)
	}
	if dirSecond == dirFirst {
		t.Fatalf("instances must not share a pack directory")
	}
	release()
	// evicts lab1 from the second instance
	if _, release, err = second.cache.Acquire(ctx, Pack{ID: "other"}); err != nil {
		t.Fatalf("acquire other: %v", err)
	}
	release()
	if err := second.cache.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dirFirst, "1.out"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("pack in use by another instance changed: %q, %v", got, err)
	}
}

func TestAcquireHashMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	f.put("lab1", buildPack(t, map[string]string{"1.out": "x"}))

	_, _, err := f.cache.Acquire(context.Background(), Pack{ID: "lab1", SHA256: sum([]byte("other"))})
	if err == nil {
		t.Fatalf("expected hash mismatch")
	}
	if !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.root, "lab1")); !os.IsNotExist(err) {
		t.Fatalf("failed download must not leave a directory")
	}
	assertNoStaging(t, f.root)
}

func TestAcquireRejectsEscapingEntries(t *testing.T) {
	f := newFixture(t, Config{})
	f.put("evil", buildPack(t, map[string]string{"../outside.txt": "x"}))

	if _, _, err := f.cache.Acquire(context.Background(), Pack{ID: "evil"}); err == nil {
		t.Fatalf("expected escaping entry to be rejected")
	}
	for _, dir := range []string{f.root, filepath.Dir(f.root)} {
		if _, err := os.Stat(filepath.Join(dir, "outside.txt")); !os.IsNotExist(err) {
			t.Fatalf("file escaped the pack root into %s", dir)
		}
	}
	assertNoStaging(t, f.root)
}

func TestAcquireRejectsOversizedPack(t *testing.T) {
	f := newFixture(t, Config{MaxPackBytes: 16})
	f.put("big", buildPack(t, map[string]string{"1.out": "some test data"}))

	if _, _, err := f.cache.Acquire(context.Background(), Pack{ID: "big"}); err == nil {
		t.Fatalf("expected size rejection")
	}
	if f.store.getCount() != 0 {
		t.Fatalf("oversized pack must not be downloaded")
	}
}

func TestAcquireRejectsPackExpandingPastMaxBytes(t *testing.T) {
	f := newFixture(t, Config{MaxBytes: 64})
	f.put("bomb", buildPack(t, map[string]string{
		"1.out": strings.Repeat("a", 40),
		"2.out": strings.Repeat("b", 40),
	}))

	_, _, err := f.cache.Acquire(context.Background(), Pack{ID: "bomb"})
	if !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected size rejection, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.root, "bomb")); !os.IsNotExist(err) {
		t.Fatalf("oversized pack must not be published")
	}
	assertNoStaging(t, f.root)
}

func TestAcquireInvalidID(t *testing.T) {
	f := newFixture(t, Config{})
	for _, id := range []string{"", "../x", "a/b", ".hidden", "a..b"} {
		_, _, err := f.cache.Acquire(context.Background(), Pack{ID: id})
		if !appErr.Is(err, appErr.ValidationFailed) {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
	}
}

func TestAcquireMissingObject(t *testing.T) {
	f := newFixture(t, Config{})
	_, _, err := f.cache.Acquire(context.Background(), Pack{ID: "nope"})
	if !appErr.Is(err, appErr.DataPackNotFound) {
		t.Fatalf("expected data pack not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.root, "nope")); !os.IsNotExist(err) {
		t.Fatalf("missing pack must not leave a directory")
	}
}

func TestAcquireWaitsForForeignLock(t *testing.T) {
	f := newFixture(t, Config{LockWait: 300 * time.Millisecond})
	f.put("lab1", buildPack(t, map[string]string{"1.out": "x"}))
	if err := f.mr.Set(lockKeyPrefix+"lab1", "1"); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.cache.Acquire(context.Background(), Pack{ID: "lab1"})
	if !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected lock wait timeout, got %v", err)
	}
	if f.store.getCount() != 0 {
		t.Fatalf("download must wait for the lock holder")
	}
}

func TestEvictionSkipsPacksInUse(t *testing.T) {
	f := newFixture(t, Config{MaxEntries: 1})
	f.put("a", buildPack(t, map[string]string{"1.out": "a"}))
	f.put("b", buildPack(t, map[string]string{"1.out": "b"}))
	ctx := context.Background()

	dirA, releaseA, err := f.cache.Acquire(ctx, Pack{ID: "a"})
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	dirB, releaseB, err := f.cache.Acquire(ctx, Pack{ID: "b"})
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dirA, "1.out")); err != nil {
		t.Fatalf("pack in use was evicted: %v", err)
	}

	releaseA()
	if _, err := os.Stat(dirA); !os.IsNotExist(err) {
		t.Fatalf("released pack over the limit should be evicted")
	}
	if _, err := os.Stat(filepath.Join(dirB, "1.out")); err != nil {
		t.Fatalf("pack b should remain: %v", err)
	}
	releaseB()
}

func TestPing(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.cache.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	f.store.bucket = false
	if err := f.cache.Ping(context.Background()); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
