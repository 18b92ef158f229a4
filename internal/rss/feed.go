// Package rss 提供订阅源登记、条目持久化和 RSS/Atom 内容抓取功能。
package rss

import "time"

// DefaultCategory 未指定分类时使用的分类名。
const DefaultCategory = "默认"

// Source 订阅源信息。
type Source struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// SourceMeta 订阅源及其未读统计。
type SourceMeta struct {
	Source
	UnreadCount   int        `json:"unread_count"`
	HasUnread     bool       `json:"has_unread"`
	LatestEntryAt *time.Time `json:"latest_entry_at"`
}

// Entry 已入库的订阅条目。
// (SourceID, Link) 唯一，是多次拉取之间的去重键。
type Entry struct {
	ID          int64     `json:"id"`
	SourceID    int64     `json:"source_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Unread      bool      `json:"unread"`
}

// RawItem Feed 中解析出的原始条目，尚未摘要和入库。
type RawItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Published string `json:"published,omitempty"` // Feed 中的原始日期字符串
	Summary   string `json:"summary"`

	// PublishedParsed 解析器已识别出的发布时间，可能为空
	PublishedParsed *time.Time `json:"-"`
}
