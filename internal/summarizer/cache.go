package summarizer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/iabetor/rssdigest/internal/logger"
)

// Cache 摘要缓存，实现需可并发使用。读写失败只影响命中率，不返回错误。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, summary string)
}

type memoryItem struct {
	summary string
	at      time.Time
}

// MemoryCache 进程内缓存，ttl 为 0 时永不过期。
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache 创建内存缓存。
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get 查询缓存。
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(item.at) > c.ttl {
		c.mu.Lock()
		// 释放读锁期间可能已被 Set 刷新
		if cur, ok := c.items[key]; ok && c.now().Sub(cur.at) > c.ttl {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return "", false
	}
	return item.summary, true
}

// Set 写入缓存。
func (c *MemoryCache) Set(_ context.Context, key, summary string) {
	c.mu.Lock()
	c.items[key] = memoryItem{summary: summary, at: c.now()}
	c.mu.Unlock()
}

// Len 返回缓存条目数。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

const cacheTimeLayout = "2006-01-02T15:04:05Z"

// SQLiteCache 基于 summary_cache 表的共享缓存，多个进程指向同一数据库时共用结果。
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteCache 创建 SQLite 缓存，表由 database.Migrate 创建。ttl 为 0 时永不过期。
func NewSQLiteCache(db *sql.DB, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{db: db, ttl: ttl, now: time.Now}
}

// Get 查询缓存。
func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool) {
	var summary, createdAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT summary, created_at FROM summary_cache WHERE cache_key = ?`, key,
	).Scan(&summary, &createdAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warnf("[summarizer] 读取摘要缓存失败: %v", err)
		}
		return "", false
	}

	if c.ttl > 0 {
		at, err := time.Parse(cacheTimeLayout, createdAt)
		if err != nil || c.now().Sub(at) > c.ttl {
			return "", false
		}
	}
	return summary, true
}

// Set 写入缓存，已存在的键覆盖并刷新时间。
func (c *SQLiteCache) Set(ctx context.Context, key, summary string) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO summary_cache (cache_key, summary, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET summary = excluded.summary, created_at = excluded.created_at`,
		key, summary, c.now().UTC().Format(cacheTimeLayout),
	)
	if err != nil {
		logger.Warnf("[summarizer] 写入摘要缓存失败: %v", err)
	}
}
