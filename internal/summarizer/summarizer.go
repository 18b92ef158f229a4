// Package summarizer 为条目生成摘要。
// 优先调用 LLM，结果按文本前缀缓存；LLM 不可用或失败时退化为确定性截断，调用方永远拿到可用的字符串。
package summarizer

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iabetor/rssdigest/internal/llm"
	"github.com/iabetor/rssdigest/internal/logger"
)

const (
	// Placeholder 输入为空时返回的固定摘要。
	Placeholder = "no content available"

	systemPrompt = "你是新闻摘要助手。请给出一句话总结，并列出2-3条关键信息。"
	ellipsis     = "..."

	defaultCacheKeyLen   = 100
	defaultMaxInputChars = 6000
	defaultFallbackWidth = 240
	defaultTimeout       = 20 * time.Second
)

// Options 摘要器参数，零值字段使用默认值。
type Options struct {
	CacheKeyLen   int           // 缓存键取原文前多少个字符
	MaxInputChars int           // 发给 LLM 的最大字符数
	FallbackWidth int           // 截断摘要的最大字符数（含省略号）
	Timeout       time.Duration // 单次 LLM 调用超时
}

// Summarizer 摘要适配器，可安全并发使用。
type Summarizer struct {
	provider llm.Provider
	cache    Cache
	opts     Options
}

// New 创建摘要器。provider 为 nil 时只使用截断摘要；cache 为 nil 时使用不过期的内存缓存。
func New(provider llm.Provider, cache Cache, opts Options) *Summarizer {
	if opts.CacheKeyLen <= 0 {
		opts.CacheKeyLen = defaultCacheKeyLen
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = defaultMaxInputChars
	}
	if opts.FallbackWidth <= utf8.RuneCountInString(ellipsis) {
		opts.FallbackWidth = defaultFallbackWidth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Summarizer{provider: provider, cache: cache, opts: opts}
}

// Summarize 返回 text 的摘要，不会失败。
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	summary, _ := s.SummarizeCached(ctx, text)
	return summary
}

// SummarizeCached 同 Summarize，cached 表示结果是否来自缓存。
func (s *Summarizer) SummarizeCached(ctx context.Context, text string) (summary string, cached bool) {
	normalized := collapseSpace(text)
	if normalized == "" {
		return Placeholder, false
	}

	// 键只取原文前缀，前缀相同的不同文本会共用一条摘要
	key := prefixRunes(text, s.opts.CacheKeyLen)
	if summary, ok := s.cache.Get(ctx, key); ok {
		return summary, true
	}

	if s.provider == nil {
		return Truncate(normalized, s.opts.FallbackWidth), false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	summary, err := s.provider.Chat(callCtx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prefixRunes(normalized, s.opts.MaxInputChars)},
	})
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		if err != nil {
			logger.Warnf("[summarizer] LLM 摘要失败，使用截断摘要: %v", err)
		}
		return Truncate(normalized, s.opts.FallbackWidth), false
	}

	s.cache.Set(ctx, key, summary)
	return summary, false
}

// Truncate 合并空白后按词边界截断到 width 个字符以内，截断时追加省略号。
// 没有空白可断开的长串（如中文）直接按字符截断。width 至少按省略号长度加一计算。
func Truncate(text string, width int) string {
	if minWidth := utf8.RuneCountInString(ellipsis) + 1; width < minWidth {
		width = minWidth
	}
	text = collapseSpace(text)
	if utf8.RuneCountInString(text) <= width {
		return text
	}

	runes := []rune(text)
	budget := width - utf8.RuneCountInString(ellipsis)
	cut := string(runes[:budget])

	// 下一个字符是空格说明恰好在词尾
	if runes[budget] != ' ' {
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " ") + ellipsis
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
