// Package digest 按日期汇总条目，关联订阅源后按分类分组。
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iabetor/rssdigest/internal/rss"
)

// DateLayout 日报日期格式。
const DateLayout = "2006-01-02"

// ErrInvalidDate 日期格式不是 YYYY-MM-DD。
var ErrInvalidDate = errors.New("日期格式应为 YYYY-MM-DD")

// Entry 日报中的一条条目，带上订阅源的标题和分类。
type Entry struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	SourceTitle string    `json:"source_title"`
	Category    string    `json:"category"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Unread      bool      `json:"unread"`
}

// DailyDigest 某一天的分类日报。每个分类内按发布时间倒序。
type DailyDigest struct {
	Date       string             `json:"date"`
	Total      int                `json:"total"`
	Categories map[string][]Entry `json:"categories"`
}

// Store 日报所需的存储操作。
type Store interface {
	EntriesByDate(ctx context.Context, day time.Time) ([]rss.Entry, error)
	SourceMap(ctx context.Context) (map[int64]rss.Source, error)
	MarkRead(ctx context.Context, id int64) error
}

// Assembler 生成日报。
type Assembler struct {
	store Store
	now   func() time.Time
}

// NewAssembler 创建日报生成器。
func NewAssembler(store Store) *Assembler {
	return &Assembler{store: store, now: time.Now}
}

// ParseDate 解析 YYYY-MM-DD，空字符串表示当前 UTC 日期。
func (a *Assembler) ParseDate(date string) (time.Time, error) {
	if date == "" {
		now := a.now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return day, nil
}

// Digest 返回指定 UTC 日期的日报。订阅源已删除的条目不计入。
func (a *Assembler) Digest(ctx context.Context, date string) (*DailyDigest, error) {
	day, err := a.ParseDate(date)
	if err != nil {
		return nil, err
	}

	entries, err := a.store.EntriesByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("读取条目失败: %w", err)
	}
	sources, err := a.store.SourceMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取订阅源失败: %w", err)
	}

	d := &DailyDigest{
		Date:       day.Format(DateLayout),
		Categories: make(map[string][]Entry),
	}
	// entries 已按发布时间倒序，逐条追加即保持分类内顺序
	for _, e := range entries {
		src, ok := sources[e.SourceID]
		if !ok {
			continue
		}
		d.Categories[src.Category] = append(d.Categories[src.Category], Entry{
			ID:          e.ID,
			Title:       e.Title,
			Link:        e.Link,
			PublishedAt: e.PublishedAt,
			SourceTitle: src.Title,
			Category:    src.Category,
			Summary:     e.Summary,
			Content:     e.Content,
			Unread:      e.Unread,
		})
		d.Total++
	}
	return d, nil
}

// MarkRead 将条目标记为已读，条目不存在时不报错。
func (a *Assembler) MarkRead(ctx context.Context, id int64) error {
	if err := a.store.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("标记已读失败: %w", err)
	}
	return nil
}
