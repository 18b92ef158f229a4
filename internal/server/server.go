// Package server 提供订阅源管理、拉取、日报查询的 HTTP 接口。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iabetor/rssdigest/internal/digest"
	"github.com/iabetor/rssdigest/internal/events"
	"github.com/iabetor/rssdigest/internal/ingest"
	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/rss"
)

const defaultPollInterval = time.Second

// SourceStore 订阅源管理所需的存储操作。
type SourceStore interface {
	RegisterSource(ctx context.Context, url, title, category string) (rss.Source, error)
	SourceByURL(ctx context.Context, url string) (rss.Source, bool, error)
	ListSources(ctx context.Context) ([]rss.Source, error)
	RemoveSource(ctx context.Context, id int64) error
	SourcesWithMeta(ctx context.Context) ([]rss.SourceMeta, error)
}

// TitleFetcher 登记订阅源时获取 Feed 自带的标题。
type TitleFetcher interface {
	FetchTitle(ctx context.Context, url string) (string, error)
}

// Jobs 拉取任务。
type Jobs interface {
	Run(ctx context.Context) (ingest.Job, *ingest.Result, error)
	Start() ingest.Job
	Get(id string) (ingest.Job, error)
}

// Digests 日报查询与已读标记。
type Digests interface {
	Digest(ctx context.Context, date string) (*digest.DailyDigest, error)
	MarkRead(ctx context.Context, id int64) error
}

// TextSummarizer 单条文本摘要，cached 表示结果来自缓存。
type TextSummarizer interface {
	SummarizeCached(ctx context.Context, text string) (summary string, cached bool)
}

// Deps 服务依赖。Fetcher、Events 和 Summarizer 可以为空。
type Deps struct {
	Store      SourceStore
	Fetcher    TitleFetcher
	Jobs       Jobs
	Digests    Digests
	Events     events.Log
	Summarizer TextSummarizer
}

// Server HTTP 服务。
type Server struct {
	deps         Deps
	router       *chi.Mux
	httpServer   *http.Server
	upgrader     websocket.Upgrader
	pollInterval time.Duration
}

// New 创建 HTTP 服务并注册路由。
func New(addr string, deps Deps) *Server {
	s := &Server{
		deps:         deps,
		pollInterval: defaultPollInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleRegisterSource)
		r.Get("/meta", s.handleSourcesMeta)
		r.Delete("/{id}", s.handleRemoveSource)
	})

	r.Post("/ingest", s.handleIngest)
	r.Get("/jobs/{id}", s.handleGetJob)

	r.Get("/events", s.handleEvents)
	r.Get("/events/ws", s.handleEventsWS)

	r.Get("/digest", s.handleDigest)
	r.Post("/entries/{id}/read", s.handleMarkRead)

	r.Post("/summarize", s.handleSummarize)

	s.router = r
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回路由，便于测试直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 开始监听，阻塞直到服务关闭。
func (s *Server) Start() error {
	logger.Infof("[server] HTTP 服务已启动: %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭。
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("[server] HTTP 服务正在关闭")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger 用全局 zap logger 记录访问日志。
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Z.Info("[server] 请求",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
