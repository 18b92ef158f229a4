package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewInvalidSpec(t *testing.T) {
	task := func(ctx context.Context) error { return nil }
	for _, expr := range []string{"", "every hour", "61 * * * *", "@every abc"} {
		if _, err := New(expr, task); err == nil {
			t.Errorf("New(%q) 期望报错", expr)
		}
	}
}

func TestRunOnStart(t *testing.T) {
	done := make(chan struct{})
	var once atomic.Bool
	s, err := New("@every 1h", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}

	s.Start(true)
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("启动时应立即执行一次")
	}

	if next := s.Next(); next.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("下次执行时间不符合预期: %v", next)
	}
}

func TestScheduledRun(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@every 1s", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("拉取失败也不影响后续调度")
	})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}

	s.Start(false)
	deadline := time.Now().Add(4 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()

	if calls.Load() < 2 {
		t.Errorf("期望至少执行 2 次，实际 %d 次", calls.Load())
	}
}

func TestStopCancelsTask(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	s, err := New("@every 1h", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}

	s.Start(true)
	<-started
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("Stop 应取消进行中的任务并等待其结束")
	}
}

func TestTickSkippedDuringRunOnStart(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	s, err := New("@every 1h", func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}

	s.Start(true)
	<-started

	// 模拟启动任务尚未结束时到来的一次定时触发
	s.cron.Entry(s.entryID).WrappedJob.Run()

	close(release)
	s.Stop()

	if n := calls.Load(); n != 1 {
		t.Errorf("首次执行未结束时的触发应被跳过，实际执行 %d 次", n)
	}
}
