package main

import (
	"context"
	"time"

	"github.com/iabetor/rssdigest/internal/config"
	"github.com/iabetor/rssdigest/internal/database"
	"github.com/iabetor/rssdigest/internal/digest"
	"github.com/iabetor/rssdigest/internal/events"
	"github.com/iabetor/rssdigest/internal/ingest"
	"github.com/iabetor/rssdigest/internal/llm"
	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/rss"
	"github.com/iabetor/rssdigest/internal/summarizer"
)

// app 按配置组装好的各组件。
type app struct {
	db      *database.DB
	store   *rss.Store
	fetcher *rss.Fetcher
	events  *events.SQLiteLog
	jobs    *ingest.JobManager
	digests *digest.Assembler

	summarizer *summarizer.Summarizer
}

// newApp 打开数据库并组装拉取流水线。ctx 控制后台任务的生命周期。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	store := rss.NewStore(db.DB)
	fetcher := rss.NewFetcher(
		time.Duration(cfg.Ingest.FetchTimeoutSeconds)*time.Second,
		cfg.Ingest.MaxItemsPerFeed,
	)

	sum := summarizer.New(newProvider(cfg.LLM), newSummaryCache(cfg.Summarizer, db), summarizer.Options{
		CacheKeyLen:   cfg.Summarizer.CacheKeyLen,
		MaxInputChars: cfg.Summarizer.MaxInputChars,
		FallbackWidth: cfg.Summarizer.FallbackWidth,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})

	coord := ingest.NewCoordinator(store, fetcher, sum, ingest.Options{
		Concurrency:  cfg.Ingest.Concurrency,
		FetchTimeout: time.Duration(cfg.Ingest.FetchTimeoutSeconds) * time.Second,
	})
	evlog := events.NewSQLiteLog(db.DB)

	return &app{
		db:      db,
		store:   store,
		fetcher: fetcher,
		events:  evlog,
		jobs:    ingest.NewJobManager(ctx, coord, evlog),
		digests: digest.NewAssembler(store),

		summarizer: sum,
	}, nil
}

// Close 等待后台任务结束后关闭数据库。
func (a *app) Close() {
	a.jobs.Wait()
	if err := a.db.Close(); err != nil {
		logger.Warnf("[main] 关闭数据库失败: %v", err)
	}
}

// newProvider 按配置创建 LLM 客户端。没有任何可用 API Key 时返回 nil，摘要走截断回退。
func newProvider(cfg config.LLMConfig) llm.Provider {
	opts := llm.Options{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}

	models := make([]llm.ModelConfig, 0, len(cfg.Fallbacks)+1)
	if cfg.APIKey != "" {
		models = append(models, llm.ModelConfig{
			Name:   cfg.Model,
			APIURL: cfg.APIURL,
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
	}
	for _, fb := range cfg.Fallbacks {
		if fb.APIKey == "" {
			continue
		}
		apiURL := fb.APIURL
		if apiURL == "" {
			apiURL = cfg.APIURL
		}
		models = append(models, llm.ModelConfig{
			Name:   fb.Name,
			APIURL: apiURL,
			APIKey: fb.APIKey,
			Model:  fb.Model,
		})
	}

	switch len(models) {
	case 0:
		logger.Info("[main] 未配置 LLM API Key，摘要使用截断回退")
		return nil
	case 1:
		m := models[0]
		logger.Infof("[main] 摘要模型: %s", m.Model)
		return llm.NewOpenAIProvider(m.APIURL, m.APIKey, m.Model, opts)
	default:
		multi, err := llm.NewMultiProvider(models, opts)
		if err != nil {
			logger.Warnf("[main] 创建多模型失败，摘要使用截断回退: %v", err)
			return nil
		}
		return multi
	}
}

// newSummaryCache 按配置选择摘要缓存后端。
func newSummaryCache(cfg config.SummarizerConfig, db *database.DB) summarizer.Cache {
	ttl := time.Duration(cfg.CacheTTLMinutes) * time.Minute
	switch cfg.Cache {
	case "sqlite":
		return summarizer.NewSQLiteCache(db.DB, ttl)
	case "memory", "":
		return summarizer.NewMemoryCache(ttl)
	default:
		logger.Warnf("[main] 未知的摘要缓存类型 %q，使用内存缓存", cfg.Cache)
		return summarizer.NewMemoryCache(ttl)
	}
}
