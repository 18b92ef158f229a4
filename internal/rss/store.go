package rss

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSource 订阅源参数不合法。
var ErrInvalidSource = errors.New("订阅源参数不合法")

// timeLayout 定宽 UTC 时间格式，字典序即时间序，前 10 位即 UTC 日期。
const timeLayout = "2006-01-02T15:04:05Z"

// FormatTime 将时间转换为入库格式。
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// 兼容其他写入方带时区或小数秒的格式
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// Store 使用 SQLite 持久化订阅源和条目。
// 去重依赖 entries 表上的 UNIQUE(source_id, link) 约束，调用方无需额外加锁。
type Store struct {
	db *sql.DB
}

// NewStore 创建存储，db 需已完成迁移。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RegisterSource 登记订阅源。按 URL 幂等：URL 已存在时原样返回已有记录，不更新标题和分类。
func (s *Store) RegisterSource(ctx context.Context, url, title, category string) (Source, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Source{}, fmt.Errorf("%w: url 不能为空", ErrInvalidSource)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = url
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = DefaultCategory
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sources (url, title, category) VALUES (?, ?, ?)",
		url, title, category); err != nil {
		return Source{}, fmt.Errorf("登记订阅源失败: %w", err)
	}

	src, ok, err := s.SourceByURL(ctx, url)
	if err != nil {
		return Source{}, err
	}
	if !ok {
		return Source{}, fmt.Errorf("查询订阅源失败: %w", sql.ErrNoRows)
	}
	return src, nil
}

// SourceByURL 按 URL 查询订阅源，不存在时 ok 为 false。
func (s *Store) SourceByURL(ctx context.Context, url string) (src Source, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT id, url, title, category FROM sources WHERE url = ?", strings.TrimSpace(url),
	).Scan(&src.ID, &src.URL, &src.Title, &src.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, false, nil
	}
	if err != nil {
		return Source{}, false, fmt.Errorf("查询订阅源失败: %w", err)
	}
	return src, true, nil
}

// ListSources 列出所有订阅源，最近登记的在前。
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, url, title, category FROM sources ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("查询订阅源失败: %w", err)
	}
	defer rows.Close()

	sources := make([]Source, 0)
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.URL, &src.Title, &src.Category); err != nil {
			return nil, fmt.Errorf("读取订阅源失败: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SourceMap 返回 id 到订阅源的映射。
func (s *Store) SourceMap(ctx context.Context) (map[int64]Source, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[int64]Source, len(sources))
	for _, src := range sources {
		m[src.ID] = src
	}
	return m, nil
}

// RemoveSource 删除订阅源。id 不存在时不报错；该源的条目保留在库中。
func (s *Store) RemoveSource(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id); err != nil {
		return fmt.Errorf("删除订阅源失败: %w", err)
	}
	return nil
}

// SourcesWithMeta 返回订阅源及未读数、最新条目时间。
func (s *Store) SourcesWithMeta(ctx context.Context) ([]SourceMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.id, s.url, s.title, s.category,
			COALESCE(SUM(CASE WHEN e.unread = 1 THEN 1 ELSE 0 END), 0) AS unread_count,
			MAX(e.published_at) AS latest_entry_at
		FROM sources s
		LEFT JOIN entries e ON s.id = e.source_id
		GROUP BY s.id
		ORDER BY s.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询订阅源统计失败: %w", err)
	}
	defer rows.Close()

	metas := make([]SourceMeta, 0)
	for rows.Next() {
		var (
			m      SourceMeta
			latest sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.URL, &m.Title, &m.Category, &m.UnreadCount, &latest); err != nil {
			return nil, fmt.Errorf("读取订阅源统计失败: %w", err)
		}
		m.HasUnread = m.UnreadCount > 0
		if latest.Valid {
			if t, err := parseStoredTime(latest.String); err == nil {
				m.LatestEntryAt = &t
			}
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// InsertEntries 以 insert-or-ignore 方式写入条目，返回实际新增的行数。
// 同一 (source_id, link) 已存在的条目被忽略，因此重复拉取是幂等的。
func (s *Store) InsertEntries(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entries (
			source_id, title, link, published_at, summary, content, unread
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		unread := 0
		if e.Unread {
			unread = 1
		}
		res, err := stmt.ExecContext(ctx,
			e.SourceID, e.Title, e.Link, FormatTime(e.PublishedAt), e.Summary, e.Content, unread)
		if err != nil {
			return 0, fmt.Errorf("写入条目 %s 失败: %w", e.Link, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交事务失败: %w", err)
	}
	return inserted, nil
}

// EntriesByDate 返回 UTC 日期为 day 的条目，按发布时间倒序。
func (s *Store) EntriesByDate(ctx context.Context, day time.Time) ([]Entry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, title, link, published_at, summary, content, unread
		FROM entries
		WHERE published_at >= ? AND published_at < ?
		ORDER BY published_at DESC, id DESC
	`, FormatTime(start), FormatTime(end))
	if err != nil {
		return nil, fmt.Errorf("查询条目失败: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e         Entry
			published string
			unread    int
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Title, &e.Link, &published, &e.Summary, &e.Content, &unread); err != nil {
			return nil, fmt.Errorf("读取条目失败: %w", err)
		}
		t, err := parseStoredTime(published)
		if err != nil {
			return nil, fmt.Errorf("条目 %d 发布时间格式错误: %w", e.ID, err)
		}
		e.PublishedAt = t
		e.Unread = unread == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkRead 将条目标记为已读。id 不存在时不报错。
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE entries SET unread = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("标记已读失败: %w", err)
	}
	return nil
}
