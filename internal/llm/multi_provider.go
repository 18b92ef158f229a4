package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/iabetor/rssdigest/internal/logger"
)

// ModelConfig 描述一个 LLM 模型的连接信息。
type ModelConfig struct {
	Name   string // 显示名称
	APIURL string // API 地址
	APIKey string // API Key
	Model  string // 模型名称
}

// providerEntry 是一个 Provider 及其名称的组合。
type providerEntry struct {
	name     string
	provider Provider
}

// MultiProvider 实现多 LLM 自动降级。
// 按优先级列表轮换，当前模型请求失败时后续请求切换到下一个。
type MultiProvider struct {
	entries []providerEntry
	current int // 当前活跃索引
	mu      sync.RWMutex
}

// NewMultiProvider 根据模型配置列表创建 MultiProvider，所有模型共用同一组生成参数。
func NewMultiProvider(configs []ModelConfig, opts Options) (*MultiProvider, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("至少需要一个 LLM 模型配置")
	}

	entries := make([]providerEntry, 0, len(configs))
	for _, cfg := range configs {
		name := cfg.Name
		if name == "" {
			name = cfg.Model
		}
		entries = append(entries, providerEntry{
			name:     name,
			provider: NewOpenAIProvider(cfg.APIURL, cfg.APIKey, cfg.Model, opts),
		})
	}

	logger.Infof("[llm] 多模型已初始化，共 %d 个模型：%s",
		len(entries), formatModelNames(entries))

	return &MultiProvider{entries: entries}, nil
}

// newMultiProviderFrom 直接由 Provider 列表构造，便于测试替换后端。
func newMultiProviderFrom(names []string, providers []Provider) *MultiProvider {
	entries := make([]providerEntry, len(providers))
	for i, p := range providers {
		entries[i] = providerEntry{name: names[i], provider: p}
	}
	return &MultiProvider{entries: entries}
}

// CurrentName 返回当前活跃模型的名称。
func (m *MultiProvider) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[m.current].name
}

// Chat 实现 Provider 接口。
// 每次只请求当前活跃模型；遇到可降级的错误时切换到下一个模型并返回该错误，
// 下一次请求从新模型开始。
func (m *MultiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	m.mu.RLock()
	idx := m.current
	entry := m.entries[idx]
	m.mu.RUnlock()

	reply, err := entry.provider.Chat(ctx, messages)
	if err == nil {
		return reply, nil
	}
	logger.Warnf("[llm] 模型 [%s] 请求失败: %v", entry.name, err)

	// 上下文已取消时不切换模型
	if ctx.Err() != nil || !shouldFallback(err) || len(m.entries) == 1 {
		return "", err
	}

	m.mu.Lock()
	// 并发请求可能已经切换过
	if m.current == idx {
		m.current = (idx + 1) % len(m.entries)
		logger.Infof("[llm] 切换到模型 [%s]", m.entries[m.current].name)
	}
	m.mu.Unlock()
	return "", fmt.Errorf("模型 [%s] 不可用，已切换: %w", entry.name, err)
}

// shouldFallback 判断错误是否应该触发降级到下一个模型。
func shouldFallback(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden,
			http.StatusNotFound, http.StatusTooManyRequests:
			return true
		}
		return apiErr.StatusCode >= 500
	}

	if errors.Is(err, ErrEmptyResponse) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, kw := range []string{
		"insufficient", "balance", "quota", "rate limit",
		"timeout", "deadline exceeded", "connection refused", "connection reset",
		"余额不足", "额度", "限流",
	} {
		if strings.Contains(errMsg, kw) {
			return true
		}
	}
	return false
}

// formatModelNames 格式化模型名称列表用于日志。
func formatModelNames(entries []providerEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return strings.Join(names, " → ")
}
