package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/rssdigest/internal/logger"
	_ "modernc.org/sqlite"
)

// DB 是统一的 SQLite 数据库连接。
// 订阅源、条目、摘要缓存和事件日志共享同一个数据库文件。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。
// dbPath: 数据库文件路径，如果为空则使用默认路径 ~/.rssdigest/rssdigest.db
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			dbPath = filepath.Join(home, ".rssdigest", "rssdigest.db")
		} else {
			dbPath = "./rssdigest.db"
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 单连接写入，冲突写由 SQLite 自身串行化
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 %s 失败: %w", p, err)
		}
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 运行数据库迁移。
func (db *DB) Migrate() error {
	migrations := []string{
		// 订阅源表
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// 条目表；删除订阅源不级联删除条目，日报查询时按订阅源过滤
		`CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			link TEXT NOT NULL,
			published_at TEXT NOT NULL,
			summary TEXT NOT NULL,
			content TEXT NOT NULL,
			unread INTEGER NOT NULL DEFAULT 1,
			UNIQUE(source_id, link)
		)`,
		// 摘要缓存表
		`CREATE TABLE IF NOT EXISTS summary_cache (
			cache_key TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		// 拉取事件日志
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_entries_published_at ON entries(published_at)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_source_id ON entries(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[database] 创建索引失败: %v", err)
		}
	}

	logger.Info("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
