package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/rssdigest/internal/database"
	"github.com/iabetor/rssdigest/internal/rss"
)

// stubFetcher 按 URL 返回预设条目或错误。
type stubFetcher struct {
	items map[string][]rss.RawItem
	errs  map[string]error
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]rss.RawItem, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.items[url], nil
}

// echoSummarizer 原样返回输入，记录调用次数。
type echoSummarizer struct {
	mu    sync.Mutex
	calls []string
}

func (s *echoSummarizer) Summarize(ctx context.Context, text string) string {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	return "摘要:" + text
}

func newTestStore(t *testing.T) *rss.Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return rss.NewStore(db.DB)
}

func twoItems() []rss.RawItem {
	return []rss.RawItem{
		{Title: "第一条", Link: "https://a.example/1", Published: "2026-02-19T08:00:00Z", Summary: "<p>内容 <b>一</b></p>"},
		{Title: "", Link: "https://a.example/2", Summary: ""},
	}
}

func TestIngestNoSources(t *testing.T) {
	c := NewCoordinator(newTestStore(t), &stubFetcher{}, &echoSummarizer{}, Options{})
	if _, err := c.Ingest(context.Background()); !errors.Is(err, ErrNoSources) {
		t.Fatalf("期望 ErrNoSources, got %v", err)
	}
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src, _ := store.RegisterSource(ctx, "https://a.example/feed", "A", "Tech")

	fetcher := &stubFetcher{items: map[string][]rss.RawItem{src.URL: twoItems()}}
	sum := &echoSummarizer{}
	c := NewCoordinator(store, fetcher, sum, Options{})
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	res, err := c.Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest 失败: %v", err)
	}
	if res.Inserted != 2 || res.Sources != 1 || len(res.Failures) != 0 {
		t.Fatalf("首次拉取结果不符合预期: %+v", res)
	}

	res, err = c.Ingest(ctx)
	if err != nil {
		t.Fatalf("重复 Ingest 失败: %v", err)
	}
	if res.Inserted != 0 {
		t.Fatalf("重复拉取应新增 0 条，得到 %d", res.Inserted)
	}

	entries, _ := store.EntriesByDate(ctx, now)
	if len(entries) != 2 {
		t.Fatalf("期望 2 条条目，得到 %d", len(entries))
	}

	byLink := map[string]rss.Entry{}
	for _, e := range entries {
		byLink[e.Link] = e
	}
	first := byLink["https://a.example/1"]
	if first.Summary != "摘要:内容 一" || first.Content != "<p>内容 <b>一</b></p>" || !first.Unread {
		t.Errorf("第一条条目不符合预期: %+v", first)
	}
	second := byLink["https://a.example/2"]
	if second.Title != DefaultTitle {
		t.Errorf("无标题条目应使用默认标题: %q", second.Title)
	}
	if !second.PublishedAt.Equal(now) {
		t.Errorf("无日期条目应使用拉取时间: %v", second.PublishedAt)
	}
	if second.Content != "" {
		t.Errorf("无描述条目正文应为空: %q", second.Content)
	}
}

func TestIngestSkipsItemsWithoutLink(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src, _ := store.RegisterSource(ctx, "https://a.example/feed", "A", "Tech")

	fetcher := &stubFetcher{items: map[string][]rss.RawItem{
		src.URL: {{Title: "无链接"}, {Title: "有链接", Link: "https://a.example/ok"}},
	}}
	res, err := NewCoordinator(store, fetcher, &echoSummarizer{}, Options{}).Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest 失败: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("期望新增 1 条，得到 %d", res.Inserted)
	}
}

func TestIngestFailingSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	good, _ := store.RegisterSource(ctx, "https://a.example/feed", "A", "Tech")
	bad, _ := store.RegisterSource(ctx, "https://broken.example/feed", "B", "News")

	fetcher := &stubFetcher{
		items: map[string][]rss.RawItem{good.URL: twoItems()},
		errs:  map[string]error{bad.URL: rss.ErrFeedFetch},
	}
	res, err := NewCoordinator(store, fetcher, &echoSummarizer{}, Options{}).Ingest(ctx)
	if err != nil {
		t.Fatalf("单个订阅源失败不应中止拉取: %v", err)
	}
	if res.Inserted != 2 {
		t.Errorf("正常订阅源应新增 2 条，得到 %d", res.Inserted)
	}
	if len(res.Failures) != 1 || res.Failures[0].SourceID != bad.ID || res.Failures[0].URL != bad.URL {
		t.Errorf("失败记录不符合预期: %+v", res.Failures)
	}
}

func TestIngestFetchTimeout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.RegisterSource(ctx, "https://slow.example/feed", "Slow", "Tech")

	fetcher := &stubFetcher{delay: 5 * time.Second}
	start := time.Now()
	res, err := NewCoordinator(store, fetcher, &echoSummarizer{}, Options{FetchTimeout: 50 * time.Millisecond}).Ingest(ctx)
	if err != nil {
		t.Fatalf("超时不应中止拉取: %v", err)
	}
	if res.Inserted != 0 || len(res.Failures) != 1 {
		t.Errorf("超时订阅源应记为失败: %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("超时未生效，耗时 %v", time.Since(start))
	}
}

func TestIngestConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for i := 0; i < 12; i++ {
		store.RegisterSource(ctx, "https://s"+string(rune('a'+i))+".example/feed", "", "")
	}

	fetcher := &stubFetcher{delay: 20 * time.Millisecond}
	res, err := NewCoordinator(store, fetcher, &echoSummarizer{}, Options{Concurrency: 3}).Ingest(ctx)
	if err != nil {
		t.Fatalf("Ingest 失败: %v", err)
	}
	if res.Sources != 12 {
		t.Errorf("期望 12 个订阅源，得到 %d", res.Sources)
	}
	if got := fetcher.maxInFlight.Load(); got > 3 {
		t.Errorf("并发抓取数超过上限: %d", got)
	}
}

// failingStore 写入时总是失败。
type failingStore struct {
	sources []rss.Source
}

func (s *failingStore) ListSources(ctx context.Context) ([]rss.Source, error) {
	return s.sources, nil
}

func (s *failingStore) InsertEntries(ctx context.Context, entries []rss.Entry) (int, error) {
	return 0, errors.New("database is locked")
}

func TestIngestStoreFailure(t *testing.T) {
	store := &failingStore{sources: []rss.Source{{ID: 1, URL: "https://a.example/feed"}}}
	fetcher := &stubFetcher{items: map[string][]rss.RawItem{"https://a.example/feed": twoItems()}}

	_, err := NewCoordinator(store, fetcher, &echoSummarizer{}, Options{}).Ingest(context.Background())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("期望 ErrStore, got %v", err)
	}
}
