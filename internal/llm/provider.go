// Package llm 提供 OpenAI 兼容的对话补全客户端，以及按优先级自动降级的多模型封装。
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message 表示与 LLM 对话中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider 定义一次性返回完整回复的 LLM 后端接口。
type Provider interface {
	// Chat 将对话消息发送给 LLM，返回回复文本。
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyResponse 接口返回成功但没有可用内容。
var ErrEmptyResponse = errors.New("[llm] 模型返回内容为空")

// APIError 表示接口返回了非 200 状态码。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[llm] API 返回状态码 %d: %s", e.StatusCode, e.Body)
}
