// internal/storage/file_storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/SceneWeaver/internal/utils"
)

// FileStorage 提供文件存储服务: one JSON file per key under BaseDir/saves
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
}

const savesDir = "saves"

var keyReplacer = strings.NewReplacer(":", "__", "/", "_", "\\", "_", "..", "_")

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		baseDir = "data"
	}
	if err := os.MkdirAll(filepath.Join(baseDir, savesDir), 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
		stopCleanup:  make(chan struct{}),
	}

	// 启动缓存清理
	fs.StartCacheCleanup(2 * time.Minute)

	return fs, nil
}

// PathFor returns the file backing key
func (fs *FileStorage) PathFor(key string) string {
	return filepath.Join(fs.BaseDir, savesDir, keyReplacer.Replace(key)+".json")
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Put writes value atomically: temp file then rename
func (fs *FileStorage) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := fs.PathFor(key)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, value, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("Failed to clean up temporary file", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr,
			})
		}
		return fmt.Errorf("rename save file: %w", err)
	}

	fs.updateCache(fullPath, value)
	return nil
}

// Get reads a key, serving from cache while fresh
func (fs *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath := fs.PathFor(key)

	// 检查缓存
	if data, ok := fs.cached(fullPath); ok {
		return data, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	// 双重检查缓存
	if data, ok := fs.cached(fullPath); ok {
		return data, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil, fmt.Errorf("read save file: %w", err)
	}

	fs.updateCache(fullPath, content)
	return content, nil
}

// Delete removes a key
func (fs *FileStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := fs.PathFor(key)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	fs.invalidateCache(fullPath)
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete save file: %w", err)
	}
	return nil
}

// Keys lists stored keys in their on-disk form, sorted
func (fs *FileStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, savesDir))
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops the cache cleanup goroutine
func (fs *FileStorage) Close() error {
	fs.closeOnce.Do(func() { close(fs.stopCleanup) })
	return nil
}

func (fs *FileStorage) cached(path string) ([]byte, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()
	entry, exists := fs.cache[path]
	if !exists || time.Since(entry.Timestamp) >= fs.cacheExpiry {
		return nil, false
	}
	return entry.Data, true
}

// 缓存管理
func (fs *FileStorage) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	}
	if len(fs.cache) > fs.maxCacheSize {
		fs.evictOldestLocked(len(fs.cache) - fs.maxCacheSize)
	}
}

// StartCacheCleanup 开始缓存清理 until Close
func (fs *FileStorage) StartCacheCleanup(every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-fs.stopCleanup:
				return
			case <-ticker.C:
				fs.cleanupExpiredCache()
			}
		}
	}()
}

// 清理过期缓存
func (fs *FileStorage) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

func (fs *FileStorage) evictOldestLocked(n int) {
	type cacheEntryWithTime struct {
		key       string
		timestamp time.Time
	}
	entries := make([]cacheEntryWithTime, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, cacheEntryWithTime{key: key, timestamp: entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})
	for i := 0; i < n && i < len(entries); i++ {
		delete(fs.cache, entries[i].key)
	}
}

// invalidateCache 清除指定路径的缓存
func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()
	delete(fs.cache, path)
}
