package rss

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

const (
	defaultMaxItems     = 20 // 每个 Feed 每次最多处理的条目数
	defaultFetchTimeout = 30 * time.Second
	userAgent           = "rssdigest/1.0 RSS Reader"
)

// ErrFeedFetch 单个订阅源抓取或解析失败。
var ErrFeedFetch = errors.New("抓取订阅源失败")

// Fetcher 负责抓取和解析 RSS/Atom 内容。
type Fetcher struct {
	client   *http.Client
	maxItems int
}

// NewFetcher 创建抓取器。timeout 为单次请求超时，maxItems 为每个 Feed 最多保留的条目数。
func NewFetcher(timeout time.Duration, maxItems int) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxItems: maxItems,
	}
}

// Fetch 抓取 url 并返回 Feed 中最前面的条目，保持 Feed 原有顺序。
// 失败时返回 nil 和包装了 ErrFeedFetch 的错误，由调用方决定如何记录。
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]RawItem, error) {
	feed, err := f.parseFeed(ctx, url)
	if err != nil {
		return nil, err
	}

	n := f.maxItems
	if len(feed.Items) < n {
		n = len(feed.Items)
	}

	items := make([]RawItem, 0, n)
	for _, gItem := range feed.Items[:n] {
		if gItem == nil {
			continue
		}
		summary := gItem.Description
		if summary == "" {
			summary = gItem.Content
		}

		raw := gItem.Published
		parsed := gItem.PublishedParsed
		if raw == "" {
			raw = gItem.Updated
		}
		if parsed == nil {
			parsed = gItem.UpdatedParsed
		}

		items = append(items, RawItem{
			Title:           strings.TrimSpace(gItem.Title),
			Link:            strings.TrimSpace(gItem.Link),
			Published:       raw,
			PublishedParsed: parsed,
			Summary:         summary,
		})
	}
	return items, nil
}

// FetchTitle 抓取 url 并返回 Feed 标题，标题为空时返回 url。
func (f *Fetcher) FetchTitle(ctx context.Context, url string) (string, error) {
	feed, err := f.parseFeed(ctx, url)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(feed.Title)
	if title == "" {
		title = url
	}
	return title, nil
}

// parseFeed 请求并解析 Feed。gofeed.Parser 不能并发复用，每次新建。
func (f *Fetcher) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFeedFetch, resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedFetch, err)
	}
	return feed, nil
}

// publishedLayouts 常见 Feed 日期格式，按出现频率排列。
var publishedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsePublished 宽松解析条目发布时间，无法识别时返回 now。
func ParsePublished(item RawItem, now time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	raw := strings.TrimSpace(item.Published)
	if raw != "" {
		for _, layout := range publishedLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return now.UTC()
}

var strictPolicy = bluemonday.StrictPolicy()

// PlainText 剥离 HTML 标签和实体，合并连续空白。
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	s = strictPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
