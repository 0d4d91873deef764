// Package datapack fetches test data packs from object storage and keeps
// them extracted on local disk so file test cases can reference them.
//
// A pack is a zstd compressed tar stored as <keyPrefix><id>.tar.zst.
//
// Every Cache owns a private instance directory under RootDir, so eviction
// in one process never removes files another process is reading. An
// instance holds a lock on <instance>.lock for its lifetime; directories
// whose lock is free belong to dead processes and are swept on startup.
package datapack

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/storage"
	appErr "classjudge/pkg/errors"
	"classjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	metaFileName  = "meta.json"
	tempFileName  = "data-pack.tmp"
	packSuffix    = ".tar.zst"
	lockKeyPrefix = "judge:datapack:lock:"
	lockSuffix    = ".lock"
	stagingPrefix = ".staging-"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidID reports whether id can name a pack.
func ValidID(id string) bool {
	return validID.MatchString(id) && !strings.Contains(id, "..")
}

// Pack identifies one data pack. SHA256, when set, pins the exact archive.
type Pack struct {
	ID     string `json:"id"`
	SHA256 string `json:"sha256,omitempty"`
}

// Config controls the local pack cache.
type Config struct {
	RootDir   string        `yaml:"rootDir"`
	Bucket    string        `yaml:"bucket"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
	LockWait  time.Duration `yaml:"lockWait"`
	LockTTL   time.Duration `yaml:"lockTTL"`
	// MaxEntries and MaxBytes bound the extracted cache; packs in use are never evicted.
	// A single pack expanding past MaxBytes is rejected during extraction.
	MaxEntries int   `yaml:"maxEntries"`
	MaxBytes   int64 `yaml:"maxBytes"`
	// MaxPackBytes rejects archives larger than this before downloading.
	MaxPackBytes int64 `yaml:"maxPackBytes"`
}

type cacheEntry struct {
	id        string
	path      string
	sizeBytes int64
	expiresAt time.Time
	refs      int
}

// Cache manages local data pack copies.
type Cache struct {
	cfg       Config
	dir       string
	owner     *os.File
	ownerPath string
	storage   storage.ObjectStorage
	lock      cache.Cache
	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lruKeys   []string
	totalSize int64
}

// NewCache creates a cache with its own instance directory under cfg.RootDir.
// lock serializes downloads of one pack across processes.
func NewCache(cfg Config, storageClient storage.ObjectStorage, lock cache.Cache) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	c := &Cache{
		cfg:     cfg,
		storage: storageClient,
		lock:    lock,
		entries: make(map[string]*cacheEntry),
	}
	if cfg.RootDir == "" {
		return c, nil
	}
	if err := c.claimInstance(); err != nil {
		return nil, err
	}
	sweepStale(cfg.RootDir, c.ownerPath)
	return c, nil
}

// claimInstance locks a fresh lock file before publishing it under its
// final name, so a concurrent sweep never sees it unlocked.
func (c *Cache) claimInstance() error {
	if err := os.MkdirAll(c.cfg.RootDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create data pack root failed")
	}
	f, err := os.CreateTemp(c.cfg.RootDir, stagingPrefix+"*")
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create instance lock failed")
	}
	if err := lockInstance(f); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return appErr.Wrapf(err, appErr.CacheError, "lock instance failed")
	}
	instance := uuid.NewString()
	lockPath := filepath.Join(c.cfg.RootDir, instance+lockSuffix)
	if err := os.Rename(f.Name(), lockPath); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return appErr.Wrapf(err, appErr.CacheError, "publish instance lock failed")
	}
	dir := filepath.Join(c.cfg.RootDir, instance)
	if err := os.Mkdir(dir, 0o755); err != nil {
		_ = f.Close()
		_ = os.Remove(lockPath)
		return appErr.Wrapf(err, appErr.CacheError, "create instance dir failed")
	}
	c.owner, c.ownerPath, c.dir = f, lockPath, dir
	return nil
}

// sweepStale removes instance directories whose owner no longer holds its lock.
func sweepStale(root, ownLock string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		lockPath := filepath.Join(root, name)
		if lockPath == ownLock {
			continue
		}
		f, err := os.Open(lockPath)
		if err != nil {
			continue
		}
		if claimStale(f) {
			dir := filepath.Join(root, strings.TrimSuffix(name, lockSuffix))
			if err := os.RemoveAll(dir); err == nil {
				_ = os.Remove(lockPath)
				logger.Info(context.Background(), "removed stale data pack instance", zap.String("dir", dir))
			}
		}
		_ = f.Close()
	}
}

// Close removes this instance's extracted packs and drops its lock.
func (c *Cache) Close() error {
	if c.owner == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.RemoveAll(c.dir)
	if err == nil {
		_ = os.Remove(c.ownerPath)
	}
	_ = c.owner.Close()
	c.owner = nil
	c.entries = make(map[string]*cacheEntry)
	c.lruKeys = nil
	c.totalSize = 0
	return err
}

// Acquire returns the local directory of pack, downloading it when needed.
// The directory stays on disk until release is called.
func (c *Cache) Acquire(ctx context.Context, pack Pack) (string, func(), error) {
	if !ValidID(pack.ID) {
		return "", nil, appErr.ValidationError("data_pack", "invalid pack id")
	}
	if c.storage == nil {
		return "", nil, appErr.New(appErr.CacheError).WithMessage("storage client is not initialized")
	}
	if c.dir == "" {
		return "", nil, appErr.New(appErr.CacheError).WithMessage("data pack root is not configured")
	}
	path := filepath.Join(c.dir, pack.ID)

	if c.hitEntry(pack) {
		return path, c.releaser(pack.ID), nil
	}
	if !c.checkDisk(path, pack) {
		if err := c.fetchAndExtract(ctx, pack, path); err != nil {
			return "", nil, err
		}
	}
	c.addEntry(pack.ID, path)
	return path, c.releaser(pack.ID), nil
}

// Ping checks that the configured bucket is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c.storage == nil {
		return appErr.New(appErr.CacheError).WithMessage("storage client is not initialized")
	}
	ok, err := c.storage.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "data pack storage unavailable")
	}
	if !ok {
		return appErr.New(appErr.ServiceUnavailable).WithMessagef("bucket %s does not exist", c.cfg.Bucket)
	}
	return nil
}

func (c *Cache) releaser(id string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if entry, ok := c.entries[id]; ok && entry.refs > 0 {
				entry.refs--
			}
			c.evictLocked()
			c.mu.Unlock()
		})
	}
}

func (c *Cache) hitEntry(pack Pack) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pack.ID]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) && entry.refs == 0 {
		c.removeEntryLocked(pack.ID)
		return false
	}
	if pack.SHA256 != "" && !c.checkDisk(entry.path, pack) {
		if entry.refs == 0 {
			c.removeEntryLocked(pack.ID)
		}
		return false
	}
	entry.refs++
	entry.expiresAt = time.Now().Add(c.cfg.TTL)
	c.touchLocked(pack.ID)
	return true
}

func (c *Cache) checkDisk(path string, pack Pack) bool {
	data, err := os.ReadFile(filepath.Join(path, metaFileName))
	if err != nil {
		return false
	}
	var stored Pack
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	if stored.ID != pack.ID {
		return false
	}
	return pack.SHA256 == "" || strings.EqualFold(stored.SHA256, pack.SHA256)
}

func (c *Cache) fetchAndExtract(ctx context.Context, pack Pack, path string) error {
	if c.lock == nil {
		return appErr.New(appErr.CacheError).WithMessage("lock client is not initialized")
	}
	lockKey := lockKeyPrefix + pack.ID
	token := uuid.NewString()
	locked, err := c.waitForLock(ctx, pack, path, lockKey, token)
	if err != nil || !locked {
		return err
	}
	defer func() {
		released, err := c.lock.DelIfEqual(context.WithoutCancel(ctx), lockKey, token)
		switch {
		case err != nil:
			logger.Warn(ctx, "release data pack lock failed", zap.String("pack", pack.ID), zap.Error(err))
		case !released:
			logger.Warn(ctx, "data pack lock expired before release", zap.String("pack", pack.ID))
		}
	}()

	if c.checkDisk(path, pack) {
		return nil
	}
	c.mu.Lock()
	if entry, ok := c.entries[pack.ID]; ok && entry.refs > 0 {
		c.mu.Unlock()
		return appErr.New(appErr.CacheError).WithMessage("data pack version is in use")
	}
	c.removeEntryLocked(pack.ID)
	c.mu.Unlock()

	// Build the pack beside its final path and rename it in, so readers
	// never see a half extracted directory.
	staging, err := os.MkdirTemp(c.dir, stagingPrefix)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create staging dir failed")
	}
	defer os.RemoveAll(staging)

	start := time.Now()
	tempPath := filepath.Join(staging, tempFileName)
	sum, err := c.download(ctx, pack, tempPath)
	if err != nil {
		return err
	}
	if err := extract(tempPath, staging, c.cfg.MaxBytes); err != nil {
		return err
	}
	_ = os.Remove(tempPath)

	metaBytes, _ := json.Marshal(Pack{ID: pack.ID, SHA256: sum})
	if err := os.WriteFile(filepath.Join(staging, metaFileName), metaBytes, 0o644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write meta failed")
	}
	if err := os.RemoveAll(path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.Rename(staging, path); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "publish data pack failed")
	}
	logger.Info(ctx, "data pack cached",
		zap.String("pack", pack.ID),
		zap.String("sha256", sum),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// waitForLock takes the download lock for pack. It reports false without
// error when another caller in this process finished the pack meanwhile.
func (c *Cache) waitForLock(ctx context.Context, pack Pack, path, key, token string) (bool, error) {
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		locked, err := c.lock.SetNX(ctx, key, token, c.cfg.LockTTL)
		if err != nil {
			return false, appErr.Wrapf(err, appErr.CacheError, "acquire data pack lock failed")
		}
		if locked {
			return true, nil
		}
		if c.checkDisk(path, pack) {
			return false, nil
		}
		if time.Now().After(deadline) {
			return false, appErr.New(appErr.Timeout).WithMessage("wait for data pack cache timeout")
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *Cache) download(ctx context.Context, pack Pack, dstPath string) (string, error) {
	key := c.cfg.KeyPrefix + pack.ID + packSuffix
	if c.cfg.MaxPackBytes > 0 {
		stat, err := c.storage.StatObject(ctx, c.cfg.Bucket, key)
		if err != nil {
			return "", fetchError(err, pack, "stat data pack failed")
		}
		if stat.SizeBytes > c.cfg.MaxPackBytes {
			return "", appErr.New(appErr.CacheError).WithMessage("data pack is too large").WithDetail("pack", pack.ID)
		}
	}
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, key)
	if err != nil {
		return "", fetchError(err, pack, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(file, io.TeeReader(reader, hasher)); err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if pack.SHA256 != "" && !strings.EqualFold(actual, pack.SHA256) {
		return "", appErr.New(appErr.CacheError).WithMessage("data pack hash mismatch").WithDetail("pack", pack.ID)
	}
	return actual, nil
}

func fetchError(err error, pack Pack, msg string) error {
	if appErr.Is(err, appErr.NotFound) {
		return appErr.Wrapf(err, appErr.DataPackNotFound, "data pack %s not found", pack.ID).WithDetail("pack", pack.ID)
	}
	return appErr.Wrapf(err, appErr.CacheError, "%s", msg).WithDetail("pack", pack.ID)
}

// extract unpacks the archive at srcPath into dstDir. A positive limit caps
// the total bytes written.
func extract(srcPath, dstDir string, limit int64) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open data pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	var written int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if cleanName == metaFileName || cleanName == tempFileName {
			continue
		}
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.CacheError).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(filepath.Separator)) {
			return appErr.New(appErr.CacheError).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			// pack files are read-only test data
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o444)
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			var src io.Reader = tr
			if limit > 0 {
				src = io.LimitReader(tr, limit-written+1)
			}
			n, err := io.Copy(out, src)
			_ = out.Close()
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			written += n
			if limit > 0 && written > limit {
				return appErr.New(appErr.CacheError).WithMessage("data pack expands beyond the size limit")
			}
		default:
			// links and devices are skipped
		}
	}
	return nil
}

func (c *Cache) addEntry(id, path string) {
	size := dirSize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[id]; ok {
		existing.refs++
		existing.expiresAt = time.Now().Add(c.cfg.TTL)
		c.touchLocked(id)
		return
	}
	c.entries[id] = &cacheEntry{
		id:        id,
		path:      path,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.cfg.TTL),
		refs:      1,
	}
	c.totalSize += size
	c.touchLocked(id)
	c.evictLocked()
}

func (c *Cache) touchLocked(id string) {
	for i, k := range c.lruKeys {
		if k == id {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, id)
}

func (c *Cache) evictLocked() {
	for _, id := range append([]string(nil), c.lruKeys...) {
		over := len(c.entries) > c.cfg.MaxEntries || (c.cfg.MaxBytes > 0 && c.totalSize > c.cfg.MaxBytes)
		if !over {
			return
		}
		if entry := c.entries[id]; entry != nil && entry.refs == 0 {
			c.removeEntryLocked(id)
		}
	}
}

func (c *Cache) removeEntryLocked(id string) {
	entry, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	c.totalSize -= entry.sizeBytes
	for i, k := range c.lruKeys {
		if k == id {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	_ = os.RemoveAll(entry.path)
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
