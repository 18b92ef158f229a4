package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 20 * time.Second

// Options 控制单次补全请求的生成参数。
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIProvider 通过 chat completions 接口与 OpenAI 兼容的 API 通信。
type OpenAIProvider struct {
	apiURL     string
	apiKey     string
	model      string
	opts       Options
	httpClient *http.Client
}

// NewOpenAIProvider 创建一个新的 OpenAI 兼容 LLM 提供者。
// apiURL 形如 https://api.openai.com/v1，不含 /chat/completions。
func NewOpenAIProvider(apiURL, apiKey, model string, opts Options) *OpenAIProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIProvider{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		opts:   opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest 是发送到 chat completions 接口的 JSON 请求体。
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse 是非流式补全的响应体。
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat 向 OpenAI 兼容 API 发送对话消息，返回完整回复。
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("[llm] 序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("[llm] 创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("[llm] 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("[llm] 解析响应失败: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
