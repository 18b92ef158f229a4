package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

// stubProvider 按预设返回结果的 Provider。
type stubProvider struct {
	reply string
	err   error
	calls int
}

func (s *stubProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestMultiProviderFallback(t *testing.T) {
	primary := &stubProvider{err: &APIError{StatusCode: http.StatusPaymentRequired, Body: "余额不足"}}
	backup := &stubProvider{reply: "ok"}
	m := newMultiProviderFrom([]string{"primary", "backup"}, []Provider{primary, backup})

	// 失败的请求只调用一次当前模型，错误原样返回
	_, err := m.Chat(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("应返回 primary 的错误, got %v", err)
	}
	if primary.calls != 1 || backup.calls != 0 {
		t.Errorf("一次请求只应调用一个模型: primary=%d backup=%d", primary.calls, backup.calls)
	}
	if m.CurrentName() != "backup" {
		t.Errorf("应切换到 backup, 当前 %s", m.CurrentName())
	}

	// 之后的请求直接从 backup 开始
	reply, err := m.Chat(context.Background(), nil)
	if err != nil {
		t.Fatalf("第二次请求失败: %v", err)
	}
	if reply != "ok" {
		t.Errorf("回复不匹配: %q", reply)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("调用次数不符合预期: primary=%d backup=%d", primary.calls, backup.calls)
	}
}

func TestMultiProviderNoFallbackOnBadRequest(t *testing.T) {
	primary := &stubProvider{err: &APIError{StatusCode: http.StatusBadRequest, Body: "bad"}}
	backup := &stubProvider{reply: "ok"}
	m := newMultiProviderFrom([]string{"primary", "backup"}, []Provider{primary, backup})

	if _, err := m.Chat(context.Background(), nil); err == nil {
		t.Fatal("400 错误应返回")
	}
	if backup.calls != 0 {
		t.Errorf("backup 不应被调用")
	}
	if m.CurrentName() != "primary" {
		t.Errorf("400 错误不应切换模型, 当前 %s", m.CurrentName())
	}
}

func TestMultiProviderRotatesAcrossCalls(t *testing.T) {
	errA := &APIError{StatusCode: http.StatusInternalServerError, Body: "a"}
	errB := &APIError{StatusCode: http.StatusServiceUnavailable, Body: "b"}
	a, b := &stubProvider{err: errA}, &stubProvider{err: errB}
	m := newMultiProviderFrom([]string{"a", "b"}, []Provider{a, b})

	if _, err := m.Chat(context.Background(), nil); !errors.Is(err, errA) {
		t.Fatalf("第一次应返回 a 的错误, got %v", err)
	}
	if _, err := m.Chat(context.Background(), nil); !errors.Is(err, errB) {
		t.Fatalf("第二次应返回 b 的错误, got %v", err)
	}
	if m.CurrentName() != "a" {
		t.Errorf("全部失败后应轮换回 a, 当前 %s", m.CurrentName())
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("调用次数不符合预期: a=%d b=%d", a.calls, b.calls)
	}
}

func TestNewMultiProviderEmpty(t *testing.T) {
	if _, err := NewMultiProvider(nil, Options{}); err == nil {
		t.Fatal("空配置应报错")
	}
}

func TestShouldFallback(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 401}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 502}, true},
		{&APIError{StatusCode: 400}, false},
		{ErrEmptyResponse, true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("账户余额不足"), true},
		{errors.New("invalid json"), false},
	}
	for _, c := range cases {
		if got := shouldFallback(c.err); got != c.want {
			t.Errorf("shouldFallback(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
