package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/iabetor/rssdigest/internal/digest"
	"github.com/iabetor/rssdigest/internal/ingest"
	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/rss"
)

const (
	eventsPageSize   = 100
	internalErrorMsg = "服务内部错误"
)

type registerRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Store.ListSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleRegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体不是有效的 JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, rss.ErrInvalidSource)
		return
	}

	// 已登记的 URL 原样返回，不再请求 Feed
	existing, ok, err := s.deps.Store.SourceByURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	// 未提供标题时尝试使用 Feed 自带的标题
	if strings.TrimSpace(req.Title) == "" && s.deps.Fetcher != nil {
		title, err := s.deps.Fetcher.FetchTitle(r.Context(), req.URL)
		if err != nil {
			logger.Warnf("[server] 获取订阅源标题失败，使用 URL: %v", err)
		} else {
			req.Title = title
		}
	}

	src, err := s.deps.Store.RegisterSource(r.Context(), req.URL, req.Title, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.RemoveSource(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSourcesMeta(w http.ResponseWriter, r *http.Request) {
	metas, err := s.deps.Store.SourcesWithMeta(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job := s.deps.Jobs.Start()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": job.Status,
		})
		return
	}

	_, res, err := s.deps.Jobs.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	after, ok := queryInt(w, r, "after")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	list, err := s.deps.Events.Since(r.Context(), after, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleEventsWS 通过 WebSocket 推送 after 之后的新事件，直到客户端断开。
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeDetail(w, http.StatusNotFound, "未启用事件日志")
		return
	}
	after, ok := queryInt(w, r, "after")
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[server] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	// 读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		list, err := s.deps.Events.Since(ctx, after, eventsPageSize)
		if err != nil {
			logger.Warnf("[server] 读取事件失败: %v", err)
			return
		}
		for _, e := range list {
			if err := conn.WriteJSON(e); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warnf("[server] WebSocket 异常关闭: %v", err)
				}
				return
			}
			after = e.ID
		}
		// 一页未读完时立即继续
		if len(list) == eventsPageSize {
			continue
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Cached  bool   `json:"cached"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summarizer == nil {
		writeDetail(w, http.StatusNotFound, "未启用摘要服务")
		return
	}
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体不是有效的 JSON")
		return
	}
	summary, cached := s.deps.Summarizer.SummarizeCached(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, summarizeResponse{Summary: summary, Cached: cached})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Digests.Digest(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		perCategory, ok := queryInt(w, r, "per_category")
		if !ok {
			return
		}
		withContent, ok := queryBool(w, r, "content")
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		report := digest.RenderMarkdown(d, digest.RenderOptions{
			PerCategory: int(perCategory),
			WithContent: withContent,
		})
		if _, err := io.WriteString(w, report); err != nil {
			logger.Warnf("[server] 写入响应失败: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Digests.MarkRead(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "无效的 ID")
		return 0, false
	}
	return id, true
}

// queryInt 解析可选的整数查询参数，缺省为 0。
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeDetail(w, http.StatusBadRequest, "无效的参数 "+name)
		return 0, false
	}
	return v, true
}

// queryBool 解析可选的布尔查询参数，缺省为 false。
func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "无效的参数 "+name)
		return false, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[server] 写入响应失败: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError 按错误类型映射状态码，未知错误只记录日志不外泄细节。
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrNoSources),
		errors.Is(err, rss.ErrInvalidSource),
		errors.Is(err, digest.ErrInvalidDate):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrJobNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	default:
		logger.Errorf("[server] 请求处理失败: %v", err)
		writeDetail(w, http.StatusInternalServerError, internalErrorMsg)
	}
}
