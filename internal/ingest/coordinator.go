// Package ingest 并发抓取所有订阅源，生成摘要后写入条目存储。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/rss"
)

const (
	// DefaultTitle 条目没有标题时使用的标题。
	DefaultTitle = "无标题"

	defaultConcurrency  = 5
	defaultFetchTimeout = 30 * time.Second
)

var (
	// ErrNoSources 尚未登记任何订阅源。
	ErrNoSources = errors.New("请先添加 RSS 订阅源。")
	// ErrStore 条目存储读写失败，本次拉取中止。
	ErrStore = errors.New("条目存储失败")
)

// FeedFetcher 抓取单个 Feed。
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]rss.RawItem, error)
}

// Summarizer 为正文生成摘要，不会失败。
type Summarizer interface {
	Summarize(ctx context.Context, text string) string
}

// EntryStore 拉取所需的存储操作。
type EntryStore interface {
	ListSources(ctx context.Context) ([]rss.Source, error)
	InsertEntries(ctx context.Context, entries []rss.Entry) (int, error)
}

// SourceFailure 单个订阅源的失败记录。
type SourceFailure struct {
	SourceID int64  `json:"source_id"`
	URL      string `json:"url"`
	Error    string `json:"error"`
}

// Result 一次拉取的汇总结果。
type Result struct {
	Inserted int             `json:"inserted"`
	Sources  int             `json:"sources"`
	Failures []SourceFailure `json:"failures"`
}

// Options 拉取参数，零值字段使用默认值。
type Options struct {
	Concurrency  int           // 同时抓取的订阅源数
	FetchTimeout time.Duration // 单个订阅源抓取超时
}

// Coordinator 编排抓取、摘要与写入。
type Coordinator struct {
	store      EntryStore
	fetcher    FeedFetcher
	summarizer Summarizer
	opts       Options
	now        func() time.Time
}

// NewCoordinator 创建拉取协调器。
func NewCoordinator(store EntryStore, fetcher FeedFetcher, summarizer Summarizer, opts Options) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Coordinator{
		store:      store,
		fetcher:    fetcher,
		summarizer: summarizer,
		opts:       opts,
		now:        time.Now,
	}
}

// Ingest 拉取所有订阅源并返回新增条目数。
// 单个订阅源抓取失败只记入 Failures；存储失败会取消其余订阅源并返回包装了 ErrStore 的错误。
func (c *Coordinator) Ingest(parent context.Context) (*Result, error) {
	sources, err := c.store.ListSources(parent)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取订阅源: %w", ErrStore, err)
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		storeErr error
		result   = &Result{Sources: len(sources), Failures: []SourceFailure{}}
		sem      = make(chan struct{}, c.opts.Concurrency)
	)

	for _, src := range sources {
		wg.Add(1)
		go func(src rss.Source) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			n, err := c.ingestSource(ctx, src)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Inserted += n
			case errors.Is(err, ErrStore):
				if storeErr == nil {
					storeErr = err
					cancel()
				}
			default:
				logger.Warnf("[ingest] 订阅源 %s 抓取失败: %v", src.URL, err)
				result.Failures = append(result.Failures, SourceFailure{
					SourceID: src.ID,
					URL:      src.URL,
					Error:    err.Error(),
				})
			}
		}(src)
	}
	wg.Wait()

	if storeErr != nil {
		logger.Errorf("[ingest] 拉取中止: %v", storeErr)
		return nil, storeErr
	}
	if err := parent.Err(); err != nil {
		return nil, fmt.Errorf("拉取被取消: %w", err)
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].SourceID < result.Failures[j].SourceID
	})

	logger.Infof("[ingest] 拉取完成：%d 个订阅源，新增 %d 条，失败 %d 个",
		result.Sources, result.Inserted, len(result.Failures))
	return result, nil
}

// ingestSource 抓取单个订阅源，按 Feed 顺序生成条目并写入。
func (c *Coordinator) ingestSource(ctx context.Context, src rss.Source) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	items, err := c.fetcher.Fetch(fetchCtx, src.URL)
	cancel()
	if err != nil {
		return 0, err
	}

	now := c.now()
	entries := make([]rss.Entry, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		// 链接是去重键的一部分，没有链接的条目无法去重
		if item.Link == "" {
			logger.Debugf("[ingest] 跳过无链接条目: %s", item.Title)
			continue
		}

		title := item.Title
		if title == "" {
			title = DefaultTitle
		}
		content := item.Summary

		entries = append(entries, rss.Entry{
			SourceID:    src.ID,
			Title:       title,
			Link:        item.Link,
			PublishedAt: rss.ParsePublished(item, now),
			Summary:     c.summarizer.Summarize(ctx, rss.PlainText(content)),
			Content:     content,
			Unread:      true,
		})
	}

	if len(entries) == 0 {
		return 0, nil
	}

	n, err := c.store.InsertEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("%w: 写入订阅源 %d 的条目: %w", ErrStore, src.ID, err)
	}
	logger.Debugf("[ingest] 订阅源 %s：%d 条候选，新增 %d 条", src.URL, len(entries), n)
	return n, nil
}
